package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"trade-gateway/internal/risk"
	"trade-gateway/pkg/exchanges/aster"
)

// Result is the outcome of one command. Data carries the command-specific
// payload. A result that needs confirmation has Success=false and nothing
// was sent to the exchange.
type Result struct {
	Success           bool              `json:"success"`
	Message           string            `json:"message"`
	Data              any               `json:"data,omitempty"`
	NeedsConfirmation bool              `json:"needs_confirmation"`
	Intent            *risk.TradeIntent `json:"intent,omitempty"`
}

// PriceData is returned by price queries.
type PriceData struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// PositionView is an open position with its liquidation assessment.
type PositionView struct {
	aster.PositionRisk
	Risk *risk.PositionAssessment `json:"risk,omitempty"`
}

// PositionsData is returned by position queries.
type PositionsData struct {
	Positions          []PositionView  `json:"positions"`
	TotalUnrealizedPnL decimal.Decimal `json:"total_unrealized_pnl"`
}

// BalanceData is returned by balance queries.
type BalanceData struct {
	Balances     []BalanceRow    `json:"balances"`
	TotalBalance decimal.Decimal `json:"total_balance"`
}

// BalanceRow is one asset of the futures wallet.
type BalanceRow struct {
	Asset         string          `json:"asset"`
	Balance       decimal.Decimal `json:"balance"`
	Available     decimal.Decimal `json:"available"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// TradesData is returned by history queries.
type TradesData struct {
	Trades []aster.UserTrade `json:"trades"`
}

// LeverageData is returned after a leverage change.
type LeverageData struct {
	aster.LeverageResult
	Warning string `json:"warning,omitempty"`
}

// SystemStatus represents the system runtime status.
type SystemStatus struct {
	Venue         string    `json:"venue"`
	Testnet       bool      `json:"testnet"`
	Version       string    `json:"version"`
	ClockOffsetMs int64     `json:"clock_offset_ms"`
	WeightUsedPct float64   `json:"weight_used_pct"`
	ServerTime    time.Time `json:"server_time"`
}

// OrdersData is returned by open-order and order-history queries.
type OrdersData struct {
	Orders []aster.OpenOrder `json:"orders"`
}

// MarginTypeData is returned after a margin type change.
type MarginTypeData struct {
	Symbol     string `json:"symbol"`
	MarginType string `json:"margin_type"`
}

// MarketSummary combines the 24h ticker with the top of the book and the
// latest funding settlement. Book and FundingRate are omitted when the
// exchange did not return them.
type MarketSummary struct {
	Symbol      string             `json:"symbol"`
	Ticker      *aster.Ticker24h   `json:"ticker"`
	Book        *aster.OrderBook   `json:"book,omitempty"`
	FundingRate *aster.FundingRate `json:"funding_rate,omitempty"`
}

// SymbolRules is the trading-rules entry of one symbol with its decoded filters.
type SymbolRules struct {
	Symbol            string              `json:"symbol"`
	Status            string              `json:"status"`
	BaseAsset         string              `json:"base_asset"`
	QuoteAsset        string              `json:"quote_asset"`
	PricePrecision    int                 `json:"price_precision"`
	QuantityPrecision int                 `json:"quantity_precision"`
	FilterTypes       []string            `json:"filter_types"`
	Filters           aster.SymbolFilters `json:"filters"`
}

// IncomeData is returned by income history queries.
type IncomeData struct {
	Income []aster.Income  `json:"income"`
	Net    decimal.Decimal `json:"net"`
}
