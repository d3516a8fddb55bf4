package broker

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"ScalpSentinel/internal/apperr"
	"ScalpSentinel/internal/model"
)

type alpacaOrderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

type alpacaOrder struct {
	ID             string     `json:"id"`
	ClientOrderID  string     `json:"client_order_id"`
	Symbol         string     `json:"symbol"`
	Qty            string     `json:"qty"`
	Side           string     `json:"side"`
	Status         string     `json:"status"`
	FilledQty      string     `json:"filled_qty"`
	FilledAvgPrice *string    `json:"filled_avg_price"`
	SubmittedAt    *time.Time `json:"submitted_at"`
}

func (o alpacaOrder) toModel() (model.Order, error) {
	if o.ID == "" {
		return model.Order{}, apperr.New(apperr.CodeGateway, "order without id")
	}
	out := model.Order{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          model.OrderSide(o.Side),
		Status:        model.OrderStatus(o.Status),
	}
	if o.Qty != "" {
		qty, err := decimal.NewFromString(o.Qty)
		if err != nil {
			return model.Order{}, apperr.Wrapf(apperr.CodeGateway, err, "order %s qty", o.ID)
		}
		out.Qty = int(qty.IntPart())
	}
	if o.FilledQty != "" {
		filled, err := decimal.NewFromString(o.FilledQty)
		if err != nil {
			return model.Order{}, apperr.Wrapf(apperr.CodeGateway, err, "order %s filled qty", o.ID)
		}
		out.FilledQty = filled.InexactFloat64()
	}
	if o.FilledAvgPrice != nil && *o.FilledAvgPrice != "" {
		avg, err := decimal.NewFromString(*o.FilledAvgPrice)
		if err != nil {
			return model.Order{}, apperr.Wrapf(apperr.CodeGateway, err, "order %s fill price", o.ID)
		}
		out.FilledAvgPrice = avg.InexactFloat64()
	}
	if o.SubmittedAt != nil {
		out.SubmittedAt = *o.SubmittedAt
	}
	return out, nil
}

// SubmitOrder places a day market order.
func (a *Alpaca) SubmitOrder(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	if req.Qty <= 0 {
		return model.Order{}, apperr.Newf(apperr.CodeInvariant, "order quantity must be positive, got %d", req.Qty)
	}
	body := alpacaOrderRequest{
		Symbol:        req.Symbol,
		Qty:           strconv.Itoa(req.Qty),
		Side:          string(req.Side),
		Type:          "market",
		TimeInForce:   "day",
		ClientOrderID: req.ClientOrderID,
	}
	var resp alpacaOrder
	if err := a.trading(ctx, http.MethodPost, "/v2/orders", nil, body, &resp); err != nil {
		return model.Order{}, err
	}
	order, err := resp.toModel()
	if err != nil {
		return model.Order{}, err
	}
	a.log.Info().Str("order_id", order.ID).Str("symbol", order.Symbol).Str("side", string(order.Side)).
		Int("qty", req.Qty).Msg("order submitted")
	return order, nil
}

func (a *Alpaca) GetOrder(ctx context.Context, orderID string) (model.Order, error) {
	var resp alpacaOrder
	if err := a.trading(ctx, http.MethodGet, "/v2/orders/"+url.PathEscape(orderID), nil, nil, &resp); err != nil {
		return model.Order{}, err
	}
	return resp.toModel()
}

func (a *Alpaca) CancelOrder(ctx context.Context, orderID string) error {
	return a.trading(ctx, http.MethodDelete, "/v2/orders/"+url.PathEscape(orderID), nil, nil, nil)
}

// CashBalance returns the account's settled cash.
func (a *Alpaca) CashBalance(ctx context.Context) (float64, error) {
	var acct struct {
		Cash string `json:"cash"`
	}
	if err := a.trading(ctx, http.MethodGet, "/v2/account", nil, nil, &acct); err != nil {
		return 0, err
	}
	cash, err := decimal.NewFromString(acct.Cash)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeGateway, "parse account cash", err)
	}
	return cash.InexactFloat64(), nil
}
