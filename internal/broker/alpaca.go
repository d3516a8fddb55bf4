package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"ScalpSentinel/internal/apperr"
)

const (
	PaperTradingURL = "https://paper-api.alpaca.markets"
	LiveTradingURL  = "https://api.alpaca.markets"
	DefaultDataURL  = "https://data.alpaca.markets"
)

// AlpacaConfig holds credentials and endpoints for the Alpaca REST APIs.
type AlpacaConfig struct {
	KeyID             string
	SecretKey         string
	TradingURL        string
	DataURL           string
	Feed              string // stock data feed, "iex" or "sip"
	ProxyURL          string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Location          *time.Location // market time zone for expiration dates
}

// Alpaca implements Gateway over the Alpaca trading and market data REST APIs.
type Alpaca struct {
	cfg     AlpacaConfig
	client  *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

var _ Gateway = (*Alpaca)(nil)

// NewAlpaca creates a client with optional proxy support.
func NewAlpaca(cfg AlpacaConfig, log zerolog.Logger) *Alpaca {
	transport := &http.Transport{}
	if cfg.ProxyURL != "" {
		if u, err := url.Parse(cfg.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.TradingURL == "" {
		cfg.TradingURL = PaperTradingURL
	}
	if cfg.DataURL == "" {
		cfg.DataURL = DefaultDataURL
	}
	if cfg.Feed == "" {
		cfg.Feed = "iex"
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 3
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return &Alpaca{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		log:     log.With().Str("component", "alpaca").Logger(),
	}
}

// statusError carries a non-2xx response.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d, body: %s", e.Status, e.Body)
}

// do performs one rate-limited request and decodes the JSON response into dest.
// A nil dest discards the body.
func (a *Alpaca) do(ctx context.Context, method, base, path string, query url.Values, body, dest any) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return apperr.Wrap(apperr.CodeGateway, "rate limiter", err)
	}

	endpoint := base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return apperr.Wrap(apperr.CodeGateway, "marshal request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return apperr.Wrap(apperr.CodeGateway, "new request", err)
	}
	req.Header.Set("APCA-API-KEY-ID", a.cfg.KeyID)
	req.Header.Set("APCA-API-SECRET-KEY", a.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return apperr.Wrapf(apperr.CodeGateway, err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperr.Wrapf(apperr.CodeGateway, &statusError{Status: resp.StatusCode, Body: string(raw)}, "%s %s", method, path)
	}
	if dest == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return apperr.Wrapf(apperr.CodeGateway, err, "decode %s", path)
	}
	return nil
}

func (a *Alpaca) trading(ctx context.Context, method, path string, query url.Values, body, dest any) error {
	return a.do(ctx, method, a.cfg.TradingURL, path, query, body, dest)
}

func (a *Alpaca) data(ctx context.Context, path string, query url.Values, dest any) error {
	return a.do(ctx, http.MethodGet, a.cfg.DataURL, path, query, nil, dest)
}
