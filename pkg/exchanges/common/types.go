package common

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that reduces a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes futures order types.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStop             OrderType = "STOP"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfit       OrderType = "TAKE_PROFIT"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// RequiresPrice reports whether the order type carries a limit price.
func (t OrderType) RequiresPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStop || t == OrderTypeTakeProfit
}

// RequiresStopPrice reports whether the order type carries a trigger price.
func (t OrderType) RequiresStopPrice() bool {
	switch t {
	case OrderTypeStop, OrderTypeStopMarket, OrderTypeTakeProfit, OrderTypeTakeProfitMarket:
		return true
	}
	return false
}

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFFOK TimeInForce = "FOK" // Fill Or Kill
	TIFGTX TimeInForce = "GTX" // Post Only
)

// PositionSide selects the leg of a futures position.
type PositionSide string

const (
	PositionBoth  PositionSide = "BOTH"
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// MapStatus converts an exchange status string.
func MapStatus(s string) OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW":
		return StatusNew
	case "PARTIALLY_FILLED":
		return StatusPartial
	case "FILLED":
		return StatusFilled
	case "CANCELED":
		return StatusCanceled
	case "REJECTED":
		return StatusRejected
	case "EXPIRED":
		return StatusExpired
	default:
		return StatusUnknown
	}
}

// OrderRequest is an order ready for the wire. Quantity must already be
// normalized to the symbol's lot size; numerics are rendered as decimal text.
type OrderRequest struct {
	Symbol       string
	Side         Side
	Type         OrderType
	Quantity     decimal.Decimal
	Price        decimal.Decimal // LIMIT, STOP, TAKE_PROFIT
	StopPrice    decimal.Decimal // STOP*, TAKE_PROFIT*
	PositionSide PositionSide
	ReduceOnly   bool
	TimeInForce  TimeInForce
	ClientID     string
	WorkingType  string // MARK_PRICE or CONTRACT_PRICE
}

// OrderResult is the exchange acknowledgement of a placed or canceled order.
type OrderResult struct {
	ExchangeOrderID string          `json:"order_id"`
	ClientID        string          `json:"client_order_id"`
	Symbol          string          `json:"symbol"`
	Side            Side            `json:"side"`
	Type            OrderType       `json:"type"`
	Status          OrderStatus     `json:"status"`
	Quantity        decimal.Decimal `json:"quantity"`
	ExecutedQty     decimal.Decimal `json:"executed_qty"`
	AvgPrice        decimal.Decimal `json:"avg_price"`
	ReduceOnly      bool            `json:"reduce_only"`
}

// WirePrecision is the most decimal places sent for quantities and prices.
const WirePrecision int32 = 8

// FormatDecimal renders v in fixed-point notation truncated to precision
// places, with insignificant trailing zeros and any bare trailing point removed.
func FormatDecimal(v decimal.Decimal, precision int32) string {
	return v.Truncate(precision).String()
}
