package order

import (
	"github.com/shopspring/decimal"

	"trade-gateway/pkg/exchanges/common"
)

// PlaceRequest describes an order before normalization. Exactly one of
// Quantity (base asset) or Notional (quote asset) sizes it.
type PlaceRequest struct {
	Symbol       string
	Side         common.Side
	Type         common.OrderType // MARKET when empty
	Quantity     decimal.Decimal
	Notional     decimal.Decimal
	Price        decimal.Decimal // limit price for LIMIT-family orders
	StopPrice    decimal.Decimal
	PositionSide common.PositionSide
	ReduceOnly   bool
	TimeInForce  common.TimeInForce
	ClientID     string

	// ReferencePrice sizes Notional requests and feeds the minimum-notional
	// check. The ticker price is fetched when it is zero and Price is unset.
	ReferencePrice decimal.Decimal
}

// Placement is an accepted order together with what was actually sent.
type Placement struct {
	Order          common.OrderResult `json:"order"`
	Quantity       decimal.Decimal    `json:"quantity"`
	ReferencePrice decimal.Decimal    `json:"reference_price"`
	Notional       decimal.Decimal    `json:"notional"`
}

// CloseResult reports a close-position attempt.
type CloseResult struct {
	Symbol         string              `json:"symbol"`
	NothingToClose bool                `json:"nothing_to_close"`
	PositionSide   common.PositionSide `json:"position_side,omitempty"`
	Closed         decimal.Decimal     `json:"closed_quantity"`
	Order          *common.OrderResult `json:"order,omitempty"`
}
