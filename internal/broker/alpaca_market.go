package broker

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/moznion/go-optional"

	"ScalpSentinel/internal/apperr"
	"ScalpSentinel/internal/model"
)

const (
	maxBarPages   = 20
	maxChainPages = 10
	dateLayout    = "2006-01-02"
)

type alpacaBar struct {
	Time   time.Time `json:"t"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
}

func (b alpacaBar) toModel() (model.Bar, error) {
	if b.Time.IsZero() || b.Close <= 0 || b.High < b.Low || b.Volume < 0 {
		return model.Bar{}, apperr.Newf(apperr.CodeGateway, "malformed bar at %s", b.Time.Format(time.RFC3339))
	}
	return model.Bar{Time: b.Time, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}, nil
}

type alpacaQuote struct {
	AskPrice float64 `json:"ap"`
	BidPrice float64 `json:"bp"`
}

type alpacaTrade struct {
	Price float64 `json:"p"`
}

// HistoricalBars returns bars in ascending time order. A non-positive limit means no limit.
func (a *Alpaca) HistoricalBars(ctx context.Context, symbol string, tf model.Timeframe, start, end time.Time, limit int) ([]model.Bar, error) {
	q := url.Values{}
	q.Set("timeframe", string(tf))
	q.Set("start", start.UTC().Format(time.RFC3339))
	if !end.IsZero() {
		q.Set("end", end.UTC().Format(time.RFC3339))
	}
	q.Set("feed", a.cfg.Feed)
	q.Set("adjustment", "raw")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var bars []model.Bar
	for page := 0; page < maxBarPages; page++ {
		var resp struct {
			Bars          []alpacaBar `json:"bars"`
			NextPageToken *string     `json:"next_page_token"`
		}
		if err := a.data(ctx, "/v2/stocks/"+url.PathEscape(symbol)+"/bars", q, &resp); err != nil {
			return nil, err
		}
		for _, raw := range resp.Bars {
			bar, err := raw.toModel()
			if err != nil {
				return nil, apperr.Wrapf(apperr.CodeGateway, err, "bars for %s", symbol)
			}
			bars = append(bars, bar)
		}
		if resp.NextPageToken == nil || *resp.NextPageToken == "" || (limit > 0 && len(bars) >= limit) {
			break
		}
		q.Set("page_token", *resp.NextPageToken)
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[:limit]
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}

// LatestPrice returns the quote midpoint, falling back to one side and then the last trade.
func (a *Alpaca) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	var quoteResp struct {
		Quote alpacaQuote `json:"quote"`
	}
	if err := a.data(ctx, "/v2/stocks/"+url.PathEscape(symbol)+"/quotes/latest", url.Values{"feed": {a.cfg.Feed}}, &quoteResp); err != nil {
		return 0, err
	}
	if p, ok := quotePrice(quoteResp.Quote, 0); ok {
		return p, nil
	}

	var tradeResp struct {
		Trade alpacaTrade `json:"trade"`
	}
	if err := a.data(ctx, "/v2/stocks/"+url.PathEscape(symbol)+"/trades/latest", url.Values{"feed": {a.cfg.Feed}}, &tradeResp); err != nil {
		return 0, err
	}
	if tradeResp.Trade.Price <= 0 {
		return 0, apperr.Newf(apperr.CodeDataUnavailable, "no price for %s", symbol)
	}
	return tradeResp.Trade.Price, nil
}

func quotePrice(q alpacaQuote, last float64) (float64, bool) {
	c := model.OptionContract{Ask: q.AskPrice, Bid: q.BidPrice, Last: last}
	return c.InferPrice()
}

type alpacaContract struct {
	Symbol       string  `json:"symbol"`
	Underlying   string  `json:"underlying_symbol"`
	Type         string  `json:"type"`
	StrikePrice  string  `json:"strike_price"`
	Expiration   string  `json:"expiration_date"`
	OpenInterest *string `json:"open_interest"`
	ClosePrice   *string `json:"close_price"`
}

func (c alpacaContract) toModel(loc *time.Location) (model.OptionContract, error) {
	dir, err := model.ParseDirection(c.Type)
	if err != nil {
		return model.OptionContract{}, err
	}
	strike, err := strconv.ParseFloat(c.StrikePrice, 64)
	if err != nil || strike <= 0 {
		return model.OptionContract{}, apperr.Newf(apperr.CodeGateway, "bad strike %q", c.StrikePrice)
	}
	exp, err := time.ParseInLocation(dateLayout, c.Expiration, loc)
	if err != nil {
		return model.OptionContract{}, apperr.Wrap(apperr.CodeGateway, "bad expiration", err)
	}
	out := model.OptionContract{
		Symbol:     c.Symbol,
		Underlying: c.Underlying,
		Type:       dir,
		Strike:     strike,
		Expiration: exp,
	}
	if c.OpenInterest != nil {
		out.OpenInterest, _ = strconv.ParseFloat(*c.OpenInterest, 64)
	}
	if c.ClosePrice != nil {
		out.Last, _ = strconv.ParseFloat(*c.ClosePrice, 64)
	}
	return out, nil
}

type alpacaSnapshot struct {
	LatestQuote       *alpacaQuote `json:"latestQuote"`
	LatestTrade       *alpacaTrade `json:"latestTrade"`
	ImpliedVolatility float64      `json:"impliedVolatility"`
}

// OptionChain joins the active contracts of underlying with their latest snapshots.
// Without an expiration, the next five days of expirations are returned.
// Malformed contracts are skipped.
func (a *Alpaca) OptionChain(ctx context.Context, underlying string, expiration optional.Option[time.Time]) ([]model.OptionContract, error) {
	loc := a.location()
	q := url.Values{}
	q.Set("underlying_symbols", underlying)
	q.Set("status", "active")
	q.Set("limit", "1000")
	if exp, err := expiration.Take(); err == nil {
		q.Set("expiration_date", exp.In(loc).Format(dateLayout))
	} else {
		today := time.Now().In(loc)
		q.Set("expiration_date_gte", today.Format(dateLayout))
		q.Set("expiration_date_lte", today.AddDate(0, 0, 5).Format(dateLayout))
	}

	var chain []model.OptionContract
	for page := 0; page < maxChainPages; page++ {
		var resp struct {
			Contracts     []alpacaContract `json:"option_contracts"`
			NextPageToken *string          `json:"next_page_token"`
		}
		if err := a.trading(ctx, http.MethodGet, "/v2/options/contracts", q, nil, &resp); err != nil {
			return nil, err
		}
		for _, raw := range resp.Contracts {
			c, err := raw.toModel(loc)
			if err != nil {
				a.log.Debug().Err(err).Str("symbol", raw.Symbol).Msg("skip malformed contract")
				continue
			}
			chain = append(chain, c)
		}
		if resp.NextPageToken == nil || *resp.NextPageToken == "" {
			break
		}
		q.Set("page_token", *resp.NextPageToken)
	}
	if len(chain) == 0 {
		return nil, nil
	}

	snapshots, err := a.optionSnapshots(ctx, underlying)
	if err != nil {
		return nil, err
	}
	for i := range chain {
		snap, ok := snapshots[chain[i].Symbol]
		if !ok {
			continue
		}
		if snap.LatestQuote != nil {
			chain[i].Ask = snap.LatestQuote.AskPrice
			chain[i].Bid = snap.LatestQuote.BidPrice
		}
		if snap.LatestTrade != nil && snap.LatestTrade.Price > 0 {
			chain[i].Last = snap.LatestTrade.Price
		}
		chain[i].ImpliedVolatility = snap.ImpliedVolatility
	}
	return chain, nil
}

func (a *Alpaca) optionSnapshots(ctx context.Context, underlying string) (map[string]alpacaSnapshot, error) {
	out := make(map[string]alpacaSnapshot)
	q := url.Values{}
	q.Set("limit", "1000")
	for page := 0; page < maxChainPages; page++ {
		var resp struct {
			Snapshots     map[string]alpacaSnapshot `json:"snapshots"`
			NextPageToken *string                   `json:"next_page_token"`
		}
		if err := a.data(ctx, "/v1beta1/options/snapshots/"+url.PathEscape(underlying), q, &resp); err != nil {
			return nil, err
		}
		for sym, snap := range resp.Snapshots {
			out[sym] = snap
		}
		if resp.NextPageToken == nil || *resp.NextPageToken == "" {
			break
		}
		q.Set("page_token", *resp.NextPageToken)
	}
	return out, nil
}

// OptionMarketPrice returns the current premium of an option contract, None when unquoted.
func (a *Alpaca) OptionMarketPrice(ctx context.Context, optionSymbol string) (optional.Option[float64], error) {
	var quotes struct {
		Quotes map[string]alpacaQuote `json:"quotes"`
	}
	if err := a.data(ctx, "/v1beta1/options/quotes/latest", url.Values{"symbols": {optionSymbol}}, &quotes); err != nil {
		return optional.None[float64](), err
	}
	if q, ok := quotes.Quotes[optionSymbol]; ok {
		if p, ok := quotePrice(q, 0); ok {
			return optional.Some(p), nil
		}
	}

	var trades struct {
		Trades map[string]alpacaTrade `json:"trades"`
	}
	if err := a.data(ctx, "/v1beta1/options/trades/latest", url.Values{"symbols": {optionSymbol}}, &trades); err != nil {
		return optional.None[float64](), err
	}
	if t, ok := trades.Trades[optionSymbol]; ok && t.Price > 0 {
		return optional.Some(t.Price), nil
	}
	return optional.None[float64](), nil
}

type alpacaNews struct {
	Headline  string    `json:"headline"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// News returns articles mentioning symbol published between start and end.
func (a *Alpaca) News(ctx context.Context, symbol string, start, end time.Time, limit int) ([]model.NewsArticle, error) {
	q := url.Values{}
	q.Set("symbols", symbol)
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		News []alpacaNews `json:"news"`
	}
	if err := a.data(ctx, "/v1beta1/news", q, &resp); err != nil {
		return nil, err
	}
	articles := make([]model.NewsArticle, 0, len(resp.News))
	for _, n := range resp.News {
		articles = append(articles, model.NewsArticle{Headline: n.Headline, Summary: n.Summary, CreatedAt: n.CreatedAt})
	}
	return articles, nil
}

func (a *Alpaca) location() *time.Location {
	if a.cfg.Location != nil {
		return a.cfg.Location
	}
	return time.UTC
}
