package risk

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Action is what a trade intent asks for.
type Action string

const (
	ActionOpenLong      Action = "open_long"
	ActionOpenShort     Action = "open_short"
	ActionClosePosition Action = "close_position"
	ActionSetLeverage   Action = "set_leverage"
	ActionCancelOrder   Action = "cancel_order"
	ActionCancelAll     Action = "cancel_all"
	ActionQueryPrice    Action = "query_price"
	ActionQueryPosition Action = "query_position"
	ActionQueryBalance  Action = "query_balance"
	ActionQueryHistory  Action = "query_history"
)

// Opening reports whether the action opens or adds to a position.
func (a Action) Opening() bool {
	return a == ActionOpenLong || a == ActionOpenShort
}

// TradeIntent is an already parsed trade request. Amount is notional in the
// quote asset; nil means the parser found none.
type TradeIntent struct {
	Action       Action           `json:"action"`
	Symbol       string           `json:"symbol"`
	Amount       *decimal.Decimal `json:"amount,omitempty"`
	Leverage     int              `json:"leverage,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	StopLoss     *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit   *decimal.Decimal `json:"take_profit,omitempty"`
	PositionSide string           `json:"position_side,omitempty"`
	OrderID      string           `json:"order_id,omitempty"`
	ClientID     string           `json:"client_order_id,omitempty"`
}

// NormalizedSymbol returns the symbol upper-cased and trimmed.
func (i TradeIntent) NormalizedSymbol() string {
	return strings.ToUpper(strings.TrimSpace(i.Symbol))
}

// Config holds the account-level limits. Amounts are in the quote asset.
type Config struct {
	MaxSingleTrade   decimal.Decimal `json:"max_single_trade"`
	MaxLeverage      int             `json:"max_leverage"`
	ConfirmThreshold decimal.Decimal `json:"confirm_threshold"`
	MaxDailyTrades   int             `json:"max_daily_trades"`
	MaxDailyLoss     decimal.Decimal `json:"max_daily_loss"`
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		MaxSingleTrade:   decimal.NewFromInt(1000),
		MaxLeverage:      20,
		ConfirmThreshold: decimal.NewFromInt(500),
		MaxDailyTrades:   50,
		MaxDailyLoss:     decimal.NewFromInt(5000),
	}
}

// Decision is the outcome of a pre-trade check.
type Decision struct {
	Allowed           bool   `json:"allowed"`
	Reason            string `json:"reason,omitempty"`
	NeedsConfirmation bool   `json:"needs_confirmation"`

	err error
}

// Err returns the typed rejection, or nil when the trade is allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return d.err
}

// DailyStats is a snapshot of today's risk state.
type DailyStats struct {
	Date               string          `json:"date"`
	TradesCount        int             `json:"trades_count"`
	TotalPnL           decimal.Decimal `json:"total_pnl"`
	TradesRemaining    int             `json:"trades_remaining"`
	LossLimitRemaining decimal.Decimal `json:"loss_limit_remaining"`

	ChecksTotal     uint64 `json:"checks_total"`
	RejectionsTotal uint64 `json:"rejections_total"`
}

// Level grades how close a position is to liquidation.
type Level string

const (
	LevelCritical Level = "CRITICAL"
	LevelHigh     Level = "HIGH"
	LevelMedium   Level = "MEDIUM"
	LevelLow      Level = "LOW"
)

// PositionAssessment summarizes the risk of an open position.
type PositionAssessment struct {
	PnLPercent               decimal.Decimal `json:"pnl_percentage"`
	UnrealizedPnL            decimal.Decimal `json:"unrealized_pnl"`
	LiquidationPrice         decimal.Decimal `json:"liquidation_price"`
	DistanceToLiquidationPct decimal.Decimal `json:"distance_to_liquidation_pct"`
	Level                    Level           `json:"risk_level"`
	Warnings                 []string        `json:"warnings"`
}
