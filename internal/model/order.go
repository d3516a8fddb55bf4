package model

import "time"

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

// OrderRequest is a market order submitted to the gateway.
type OrderRequest struct {
	Symbol        string
	Qty           int
	Side          OrderSide
	ClientOrderID string
}

// Order is the gateway's view of a submitted order.
type Order struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Qty            int
	Side           OrderSide
	Status         OrderStatus
	FilledQty      float64
	FilledAvgPrice float64
	SubmittedAt    time.Time
}

// Filled reports whether the order is completely filled.
func (o Order) Filled() bool {
	return o.Status == OrderStatusFilled
}
