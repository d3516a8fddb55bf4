// Package broker defines the market-data and brokerage gateway the engine trades through,
// plus an Alpaca REST implementation.
package broker

import (
	"context"
	"time"

	"github.com/moznion/go-optional"

	"ScalpSentinel/internal/model"
)

// MarketData serves quotes, bars, option chains and news.
type MarketData interface {
	LatestPrice(ctx context.Context, symbol string) (float64, error)
	HistoricalBars(ctx context.Context, symbol string, tf model.Timeframe, start, end time.Time, limit int) ([]model.Bar, error)
	OptionChain(ctx context.Context, underlying string, expiration optional.Option[time.Time]) ([]model.OptionContract, error)
	OptionMarketPrice(ctx context.Context, optionSymbol string) (optional.Option[float64], error)
	News(ctx context.Context, symbol string, start, end time.Time, limit int) ([]model.NewsArticle, error)
}

// Trading submits and tracks orders against the account.
type Trading interface {
	SubmitOrder(ctx context.Context, req model.OrderRequest) (model.Order, error)
	GetOrder(ctx context.Context, orderID string) (model.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	CashBalance(ctx context.Context) (float64, error)
}

// Gateway is the full broker surface.
type Gateway interface {
	MarketData
	Trading
}
