// Package brokertest provides a testify mock of broker.Gateway and bar fixtures.
package brokertest

import (
	"context"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/mock"

	"ScalpSentinel/internal/model"
)

// Gateway is a mock broker.Gateway.
type Gateway struct {
	mock.Mock
}

func (g *Gateway) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	args := g.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (g *Gateway) HistoricalBars(ctx context.Context, symbol string, tf model.Timeframe, start, end time.Time, limit int) ([]model.Bar, error) {
	args := g.Called(ctx, symbol, tf, start, end, limit)
	bars, _ := args.Get(0).([]model.Bar)
	return bars, args.Error(1)
}

func (g *Gateway) OptionChain(ctx context.Context, underlying string, expiration optional.Option[time.Time]) ([]model.OptionContract, error) {
	args := g.Called(ctx, underlying, expiration)
	chain, _ := args.Get(0).([]model.OptionContract)
	return chain, args.Error(1)
}

func (g *Gateway) OptionMarketPrice(ctx context.Context, optionSymbol string) (optional.Option[float64], error) {
	args := g.Called(ctx, optionSymbol)
	return args.Get(0).(optional.Option[float64]), args.Error(1)
}

func (g *Gateway) News(ctx context.Context, symbol string, start, end time.Time, limit int) ([]model.NewsArticle, error) {
	args := g.Called(ctx, symbol, start, end, limit)
	news, _ := args.Get(0).([]model.NewsArticle)
	return news, args.Error(1)
}

func (g *Gateway) SubmitOrder(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	args := g.Called(ctx, req)
	return args.Get(0).(model.Order), args.Error(1)
}

func (g *Gateway) GetOrder(ctx context.Context, orderID string) (model.Order, error) {
	args := g.Called(ctx, orderID)
	return args.Get(0).(model.Order), args.Error(1)
}

func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	return g.Called(ctx, orderID).Error(0)
}

func (g *Gateway) CashBalance(ctx context.Context) (float64, error) {
	args := g.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}

// Bars builds one-minute bars ending at end from a list of closes.
// Each bar gets the same volume except the last, which gets lastVolume.
func Bars(end time.Time, closes []float64, volume, lastVolume float64) []model.Bar {
	bars := make([]model.Bar, len(closes))
	for i, c := range closes {
		v := volume
		if i == len(closes)-1 {
			v = lastVolume
		}
		bars[i] = model.Bar{
			Time:   end.Add(-time.Duration(len(closes)-1-i) * time.Minute),
			Open:   c,
			High:   c * 1.001,
			Low:    c * 0.999,
			Close:  c,
			Volume: v,
		}
	}
	return bars
}
