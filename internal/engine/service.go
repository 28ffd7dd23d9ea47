// Package engine executes parsed trade intents against the exchange.
// The API layer talks to the trading core only through Service.
package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"trade-gateway/internal/balance"
	"trade-gateway/internal/monitor"
	"trade-gateway/internal/order"
	"trade-gateway/internal/risk"
	"trade-gateway/pkg/db"
	"trade-gateway/pkg/exchanges/aster"
	"trade-gateway/pkg/exchanges/common"
)

// Service defines the trading operations exposed to callers.
type Service interface {
	// Intent dispatch
	Execute(ctx context.Context, intent risk.TradeIntent, confirm bool) (Result, error)

	// Order commands
	ClosePosition(ctx context.Context, symbol string, positionSide common.PositionSide) (Result, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) (Result, error)
	CancelOrder(ctx context.Context, symbol, orderID, clientOrderID string) (Result, error)
	CancelAll(ctx context.Context, symbol string) (Result, error)
	SetMarginType(ctx context.Context, symbol, marginType string) (Result, error)

	// Queries
	GetPrice(ctx context.Context, symbol string) (Result, error)
	GetPositions(ctx context.Context, symbol string) (Result, error)
	GetBalance(ctx context.Context) (Result, error)
	GetTrades(ctx context.Context, symbol string, limit int) (Result, error)
	ListJournal(ctx context.Context, symbol string, limit int) ([]db.JournalEntry, error)
	GetOpenOrders(ctx context.Context, symbol string) (Result, error)
	GetOrderHistory(ctx context.Context, symbol string, limit int) (Result, error)
	GetMarketSummary(ctx context.Context, symbol string) (Result, error)
	GetSymbolRules(ctx context.Context, symbol string) (Result, error)
	GetAccount(ctx context.Context) (Result, error)
	GetIncome(ctx context.Context, symbol, incomeType string, limit int) (Result, error)

	// Risk & system
	RiskStats() risk.DailyStats
	Metrics() monitor.MetricsSnapshot
	SystemStatus(ctx context.Context) SystemStatus
}

// Orders is the order entry the engine drives. *order.Service satisfies it.
type Orders interface {
	Place(ctx context.Context, req order.PlaceRequest) (order.Placement, error)
	ClosePosition(ctx context.Context, symbol string, positionSide common.PositionSide) (order.CloseResult, error)
	Cancel(ctx context.Context, symbol, orderID, origClientOrderID string) (common.OrderResult, error)
	CancelAll(ctx context.Context, symbol string) error
	SetLeverage(ctx context.Context, symbol string, leverage int) (aster.LeverageResult, error)
	SetMarginType(ctx context.Context, symbol, marginType string) error
}

// Balances is the account balance source. *balance.Manager satisfies it.
type Balances interface {
	Available(ctx context.Context) (decimal.Decimal, error)
	Sync(ctx context.Context) ([]balance.Balance, error)
	Invalidate()
}

// Market covers the read-only exchange calls and clock control.
// *aster.Client satisfies it.
type Market interface {
	TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetPositions(ctx context.Context, symbol string) ([]aster.PositionRisk, error)
	GetUserTrades(ctx context.Context, symbol string, limit int) ([]aster.UserTrade, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]aster.OpenOrder, error)
	GetAllOrders(ctx context.Context, symbol string, limit int) ([]aster.OpenOrder, error)
	Ticker24h(ctx context.Context, symbol string) (*aster.Ticker24h, error)
	OrderBook(ctx context.Context, symbol string, limit int) (*aster.OrderBook, error)
	FundingRates(ctx context.Context, symbol string, limit int) ([]aster.FundingRate, error)
	GetAccountInfo(ctx context.Context) (*aster.AccountInfo, error)
	GetIncome(ctx context.Context, symbol, incomeType string, limit int) ([]aster.Income, error)
	Resync(ctx context.Context) int64
	ClockOffset() int64
	WeightUsage() (used, limit int, pct float64)
}

// Rules exposes the exchange trading rules. *aster.FilterCache satisfies it.
type Rules interface {
	Symbol(ctx context.Context, symbol string) (aster.SymbolInfo, bool, error)
	FiltersFor(ctx context.Context, symbol string) (aster.SymbolFilters, error)
}

// Journal stores accepted orders. *db.Journal satisfies it.
type Journal interface {
	Insert(ctx context.Context, e db.JournalEntry) error
	GetByClientID(ctx context.Context, clientOrderID string) (db.JournalEntry, error)
	ListRecent(ctx context.Context, symbol string, limit int) ([]db.JournalEntry, error)
}
