package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade-gateway/internal/monitor"
	"trade-gateway/internal/order"
	"trade-gateway/internal/risk"
	"trade-gateway/pkg/db"
	"trade-gateway/pkg/exchanges/common"
)

const (
	defaultTradeLimit   = 20
	perSymbolTradeLimit = 5
	defaultJournalLimit = 50
)

// DefaultHistorySymbols are scanned by history queries without a symbol.
var DefaultHistorySymbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT"}

// Impl implements the Service interface by composing the trading modules.
type Impl struct {
	gate     *risk.Gate
	orders   Orders
	balances Balances
	market   Market
	rules    Rules
	journal  Journal
	metrics  *monitor.SystemMetrics
	log      *zap.Logger

	historySymbols []string
	now            func() time.Time

	// System metadata
	meta SystemStatus
}

// Config holds the configuration for creating an engine implementation.
type Config struct {
	Gate     *risk.Gate
	Orders   Orders
	Balances Balances
	Market   Market
	Rules    Rules
	Journal  Journal
	Metrics  *monitor.SystemMetrics
	Logger   *zap.Logger
	Meta     SystemStatus

	// HistorySymbols overrides DefaultHistorySymbols.
	HistorySymbols []string
}

// NewImpl creates a new engine implementation.
func NewImpl(cfg Config) *Impl {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = monitor.NewSystemMetrics()
	}
	symbols := cfg.HistorySymbols
	if len(symbols) == 0 {
		symbols = DefaultHistorySymbols
	}
	return &Impl{
		gate:           cfg.Gate,
		orders:         cfg.Orders,
		balances:       cfg.Balances,
		market:         cfg.Market,
		rules:          cfg.Rules,
		journal:        cfg.Journal,
		metrics:        metrics,
		log:            log.Named("engine"),
		historySymbols: symbols,
		now:            time.Now,
		meta:           cfg.Meta,
	}
}

var _ Service = (*Impl)(nil)

// Execute dispatches intent on its action.
func (e *Impl) Execute(ctx context.Context, intent risk.TradeIntent, confirm bool) (Result, error) {
	intent.Symbol = intent.NormalizedSymbol()
	timer := monitor.NewTimer(e.metrics.RequestLatency)
	defer timer.Stop()

	var (
		res Result
		err error
	)
	switch intent.Action {
	case risk.ActionOpenLong, risk.ActionOpenShort:
		return e.openPosition(ctx, intent, confirm)
	case risk.ActionClosePosition:
		res, err = e.ClosePosition(ctx, intent.Symbol, common.PositionSide(strings.ToUpper(intent.PositionSide)))
	case risk.ActionSetLeverage:
		res, err = e.SetLeverage(ctx, intent.Symbol, intent.Leverage)
	case risk.ActionCancelOrder:
		res, err = e.CancelOrder(ctx, intent.Symbol, intent.OrderID, intent.ClientID)
	case risk.ActionCancelAll:
		res, err = e.CancelAll(ctx, intent.Symbol)
	case risk.ActionQueryPrice:
		res, err = e.GetPrice(ctx, intent.Symbol)
	case risk.ActionQueryPosition:
		res, err = e.GetPositions(ctx, intent.Symbol)
	case risk.ActionQueryBalance:
		res, err = e.GetBalance(ctx)
	case risk.ActionQueryHistory:
		res, err = e.GetTrades(ctx, intent.Symbol, defaultTradeLimit)
	default:
		res, err = failed(nil, common.NewValidationError("action", "Action '%s' is not supported", intent.Action))
	}
	res.Intent = &intent
	return res, err
}

func (e *Impl) openPosition(ctx context.Context, intent risk.TradeIntent, confirm bool) (Result, error) {
	if intent.Symbol == "" {
		return failed(&intent, common.NewValidationError("symbol", "Symbol is required"))
	}

	var res Result
	err := e.gate.Exclusive(func() error {
		var err error
		res, err = e.openLocked(ctx, intent, confirm)
		return err
	})
	return res, err
}

// openLocked runs with the gate's execution lock held.
func (e *Impl) openLocked(ctx context.Context, intent risk.TradeIntent, confirm bool) (Result, error) {
	if intent.ClientID != "" {
		prior, err := e.journal.GetByClientID(ctx, intent.ClientID)
		switch {
		case err == nil:
			e.log.Info("client order id already journaled",
				zap.String("client_order_id", intent.ClientID),
				zap.String("order_id", prior.ExchangeOrderID))
			return Result{
				Success: true,
				Message: fmt.Sprintf("Order %s was already placed (order ID %s)", intent.ClientID, prior.ExchangeOrderID),
				Data:    prior,
				Intent:  &intent,
			}, nil
		case !errors.Is(err, db.ErrNotFound):
			e.metrics.IncrementErrors()
			return Result{Intent: &intent}, fmt.Errorf("journal lookup %s: %w", intent.ClientID, err)
		}
	} else {
		intent.ClientID = uuid.NewString()
	}

	available, err := e.balances.Available(ctx)
	if err != nil {
		e.metrics.IncrementErrors()
		return Result{Message: fmt.Sprintf("Failed to read balance: %v", err), Intent: &intent}, fmt.Errorf("read balance: %w", err)
	}

	decision := e.gate.CheckTradeRisk(intent, &available)
	if !decision.Allowed {
		e.metrics.IncrementRiskRejections()
		return Result{Message: decision.Reason, Intent: &intent}, decision.Err()
	}
	amount := *intent.Amount
	if decision.NeedsConfirmation && !confirm {
		e.metrics.IncrementConfirmations()
		return Result{
			Message:           fmt.Sprintf("Large trade detected ($%s). Please confirm to proceed.", risk.FormatUSD(amount)),
			NeedsConfirmation: true,
			Intent:            &intent,
		}, nil
	}

	var warning string
	if intent.Leverage > 0 {
		if warning, err = e.gate.ValidateLeverage(intent.Leverage); err != nil {
			return failed(&intent, err)
		}
		if _, err := e.orders.SetLeverage(ctx, intent.Symbol, intent.Leverage); err != nil {
			e.orderFailed(ctx, err)
			return Result{Message: fmt.Sprintf("Failed to set leverage: %v", err), Intent: &intent}, err
		}
	}

	side := common.SideBuy
	if intent.Action == risk.ActionOpenShort {
		side = common.SideSell
	}
	req := order.PlaceRequest{
		Symbol:       intent.Symbol,
		Side:         side,
		Type:         common.OrderTypeMarket,
		Notional:     amount,
		PositionSide: common.PositionSide(strings.ToUpper(intent.PositionSide)),
		ClientID:     intent.ClientID,
	}
	if intent.Price != nil && intent.Price.IsPositive() {
		req.Type = common.OrderTypeLimit
		req.Price = *intent.Price
		req.TimeInForce = common.TIFGTC
	}

	timer := monitor.NewTimer(e.metrics.OrderLatency)
	placement, err := e.orders.Place(ctx, req)
	timer.Stop()
	if err != nil {
		e.orderFailed(ctx, err)
		return Result{Message: fmt.Sprintf("Failed to open position: %v", err), Intent: &intent}, err
	}

	e.gate.RecordTrade(amount, decimal.Zero)
	e.metrics.IncrementOrders()
	e.balances.Invalidate()
	e.record(ctx, db.JournalEntry{
		ClientOrderID:   intent.ClientID,
		ExchangeOrderID: placement.Order.ExchangeOrderID,
		Action:          string(intent.Action),
		Symbol:          intent.Symbol,
		Side:            string(side),
		Type:            string(req.Type),
		Quantity:        placement.Quantity,
		ReferencePrice:  placement.ReferencePrice,
		Notional:        placement.Notional,
		Leverage:        intent.Leverage,
		Status:          string(placement.Order.Status),
	})

	name := "Long"
	if side == common.SideSell {
		name = "Short"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s position opened for %s\n", name, intent.Symbol)
	fmt.Fprintf(&b, "Amount: $%s\n", risk.FormatUSD(amount))
	fmt.Fprintf(&b, "Quantity: %s\n", placement.Quantity.String())
	if intent.Leverage > 0 {
		fmt.Fprintf(&b, "Leverage: %dx\n", intent.Leverage)
	}
	fmt.Fprintf(&b, "Order ID: %s", placement.Order.ExchangeOrderID)
	if warning != "" {
		fmt.Fprintf(&b, "\n%s", warning)
	}

	return Result{Success: true, Message: b.String(), Data: placement, Intent: &intent}, nil
}

// ClosePosition flattens the open position on symbol.
func (e *Impl) ClosePosition(ctx context.Context, symbol string, positionSide common.PositionSide) (Result, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return failed(nil, common.NewValidationError("symbol", "Symbol is required"))
	}

	var res Result
	err := e.gate.Exclusive(func() error {
		timer := monitor.NewTimer(e.metrics.OrderLatency)
		closed, err := e.orders.ClosePosition(ctx, symbol, positionSide)
		timer.Stop()
		if err != nil {
			e.orderFailed(ctx, err)
			res = Result{Message: fmt.Sprintf("Failed to close position: %v", err)}
			return err
		}
		if closed.NothingToClose {
			res = Result{Message: fmt.Sprintf("No open position found for %s", symbol), Data: closed}
			return nil
		}

		e.metrics.IncrementOrders()
		e.balances.Invalidate()
		e.record(ctx, db.JournalEntry{
			ClientOrderID:   closed.Order.ClientID,
			ExchangeOrderID: closed.Order.ExchangeOrderID,
			Action:          string(risk.ActionClosePosition),
			Symbol:          symbol,
			Side:            string(closed.Order.Side),
			Type:            string(common.OrderTypeMarket),
			Quantity:        closed.Closed,
			ReduceOnly:      closed.Order.ReduceOnly,
			Status:          string(closed.Order.Status),
		})
		res = Result{
			Success: true,
			Message: fmt.Sprintf("Position closed for %s\nOrder ID: %s", symbol, closed.Order.ExchangeOrderID),
			Data:    closed,
		}
		return nil
	})
	return res, err
}

// SetLeverage validates and applies leverage on symbol.
func (e *Impl) SetLeverage(ctx context.Context, symbol string, leverage int) (Result, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return failed(nil, common.NewValidationError("symbol", "Symbol is required"))
	}
	warning, err := e.gate.ValidateLeverage(leverage)
	if err != nil {
		return failed(nil, err)
	}

	applied, err := e.orders.SetLeverage(ctx, symbol, leverage)
	if err != nil {
		e.orderFailed(ctx, err)
		return Result{Message: fmt.Sprintf("Failed to set leverage: %v", err)}, err
	}
	msg := fmt.Sprintf("Leverage set to %dx for %s", leverage, symbol)
	if warning != "" {
		msg += "\n" + warning
	}
	return Result{Success: true, Message: msg, Data: LeverageData{LeverageResult: applied, Warning: warning}}, nil
}

// CancelOrder cancels one order by exchange or client order id.
func (e *Impl) CancelOrder(ctx context.Context, symbol, orderID, clientOrderID string) (Result, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return failed(nil, common.NewValidationError("symbol", "Symbol is required"))
	}
	if orderID == "" && clientOrderID == "" {
		return failed(nil, common.NewValidationError("order_id", "An order ID or client order ID is required"))
	}

	canceled, err := e.orders.Cancel(ctx, symbol, orderID, clientOrderID)
	if err != nil {
		e.orderFailed(ctx, err)
		return Result{Message: fmt.Sprintf("Failed to cancel order: %v", err)}, err
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("Order %s canceled on %s", canceled.ExchangeOrderID, symbol),
		Data:    canceled,
	}, nil
}

// CancelAll cancels every open order on symbol.
func (e *Impl) CancelAll(ctx context.Context, symbol string) (Result, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return failed(nil, common.NewValidationError("symbol", "Symbol is required"))
	}
	if err := e.orders.CancelAll(ctx, symbol); err != nil {
		e.orderFailed(ctx, err)
		return Result{Message: fmt.Sprintf("Failed to cancel orders: %v", err)}, err
	}
	return Result{Success: true, Message: fmt.Sprintf("All open orders canceled for %s", symbol)}, nil
}

// GetPrice returns the last traded price of symbol.
func (e *Impl) GetPrice(ctx context.Context, symbol string) (Result, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return failed(nil, common.NewValidationError("symbol", "Symbol is required"))
	}
	price, err := e.market.TickerPrice(ctx, symbol)
	if err != nil {
		e.onExchangeError(ctx, err)
		return Result{Message: fmt.Sprintf("Failed to get price: %v", err)}, err
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("Current %s price: $%s", symbol, risk.FormatUSD(price)),
		Data:    PriceData{Symbol: symbol, Price: price},
	}, nil
}

// GetPositions lists non-empty positions, optionally for one symbol, each
// with a liquidation assessment when one can be computed.
func (e *Impl) GetPositions(ctx context.Context, symbol string) (Result, error) {
	symbol = normalizeSymbol(symbol)
	rows, err := e.market.GetPositions(ctx, symbol)
	if err != nil {
		e.onExchangeError(ctx, err)
		return Result{Message: fmt.Sprintf("Failed to get positions: %v", err)}, err
	}

	data := PositionsData{Positions: []PositionView{}, TotalUnrealizedPnL: decimal.Zero}
	for _, p := range rows {
		if p.PositionAmt.IsZero() {
			continue
		}
		view := PositionView{PositionRisk: p}
		side := common.PositionLong
		if p.PositionAmt.IsNegative() {
			side = common.PositionShort
		}
		size := p.PositionAmt.Abs().Mul(p.EntryPrice)
		if a, err := risk.AssessPositionRisk(size, p.EntryPrice, p.MarkPrice, int(p.Leverage.IntPart()), side); err == nil {
			view.Risk = &a
		}
		data.Positions = append(data.Positions, view)
		data.TotalUnrealizedPnL = data.TotalUnrealizedPnL.Add(p.UnRealizedProfit)
	}

	var msg string
	switch n := len(data.Positions); {
	case n == 0 && symbol != "":
		msg = fmt.Sprintf("No open positions for %s", symbol)
	case n == 0:
		msg = "No open positions"
	case n == 1:
		msg = describePosition(data.Positions[0])
	default:
		msg = fmt.Sprintf("Found %d open positions", n)
	}
	return Result{Success: true, Message: msg, Data: data}, nil
}

func describePosition(v PositionView) string {
	dir := "LONG"
	if v.PositionAmt.IsNegative() {
		dir = "SHORT"
	}
	s := fmt.Sprintf("%s %s %s @ $%s, unrealized PnL $%s",
		v.Symbol, dir, v.PositionAmt.Abs().String(), risk.FormatUSD(v.EntryPrice), risk.FormatUSD(v.UnRealizedProfit))
	if v.Risk != nil {
		s += fmt.Sprintf(", liquidation ~$%s (%s risk)", risk.FormatUSD(v.Risk.LiquidationPrice), v.Risk.Level)
	}
	return s
}

// GetBalance returns the futures wallet, fetched fresh.
func (e *Impl) GetBalance(ctx context.Context) (Result, error) {
	balances, err := e.balances.Sync(ctx)
	if err != nil {
		e.onExchangeError(ctx, err)
		return Result{Message: fmt.Sprintf("Failed to get balance: %v", err)}, err
	}

	data := BalanceData{Balances: make([]BalanceRow, 0, len(balances)), TotalBalance: decimal.Zero}
	for _, b := range balances {
		data.Balances = append(data.Balances, BalanceRow{
			Asset:         b.Asset,
			Balance:       b.Total,
			Available:     b.Available,
			UnrealizedPnL: b.UnrealizedPnL,
		})
		data.TotalBalance = data.TotalBalance.Add(b.Total)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Total balance: $%s", risk.FormatUSD(data.TotalBalance))
	for _, row := range data.Balances {
		if row.Balance.IsZero() {
			continue
		}
		fmt.Fprintf(&b, "\n%s: %s (available %s)", row.Asset, row.Balance.String(), row.Available.String())
	}
	return Result{Success: true, Message: b.String(), Data: data}, nil
}

// GetTrades returns recent fills for symbol. Without a symbol it merges the
// latest fills of the history symbols, newest first.
func (e *Impl) GetTrades(ctx context.Context, symbol string, limit int) (Result, error) {
	if limit <= 0 {
		limit = defaultTradeLimit
	}
	symbol = normalizeSymbol(symbol)
	if symbol != "" {
		trades, err := e.market.GetUserTrades(ctx, symbol, limit)
		if err != nil {
			e.onExchangeError(ctx, err)
			return Result{Message: fmt.Sprintf("Failed to get trades: %v", err)}, err
		}
		return Result{
			Success: true,
			Message: fmt.Sprintf("Retrieved %d recent trades for %s", len(trades), symbol),
			Data:    TradesData{Trades: trades},
		}, nil
	}

	data := TradesData{}
	for _, s := range e.historySymbols {
		trades, err := e.market.GetUserTrades(ctx, s, perSymbolTradeLimit)
		if err != nil {
			e.log.Warn("trade history unavailable", zap.String("symbol", s), zap.Error(err))
			continue
		}
		data.Trades = append(data.Trades, trades...)
	}
	if len(data.Trades) == 0 {
		return Result{Success: true, Message: "No recent trading history found", Data: data}, nil
	}
	sort.SliceStable(data.Trades, func(i, j int) bool { return data.Trades[i].Time > data.Trades[j].Time })
	if len(data.Trades) > limit {
		data.Trades = data.Trades[:limit]
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("Retrieved %d recent trades across all symbols", len(data.Trades)),
		Data:    data,
	}, nil
}

// ListJournal returns journaled orders, newest first.
func (e *Impl) ListJournal(ctx context.Context, symbol string, limit int) ([]db.JournalEntry, error) {
	if limit <= 0 {
		limit = defaultJournalLimit
	}
	timer := monitor.NewTimer(e.metrics.DBLatency)
	defer timer.Stop()
	return e.journal.ListRecent(ctx, normalizeSymbol(symbol), limit)
}

// RiskStats returns today's risk counters.
func (e *Impl) RiskStats() risk.DailyStats {
	return e.gate.DailyStats()
}

// Metrics returns a metrics snapshot.
func (e *Impl) Metrics() monitor.MetricsSnapshot {
	used, limit, _ := e.market.WeightUsage()
	e.metrics.SetWeightUsage(used, limit)
	return e.metrics.GetSnapshot()
}

// SystemStatus returns runtime metadata.
func (e *Impl) SystemStatus(ctx context.Context) SystemStatus {
	status := e.meta
	status.ClockOffsetMs = e.market.ClockOffset()
	_, _, status.WeightUsedPct = e.market.WeightUsage()
	status.ServerTime = e.now().UTC()
	return status
}

// record journals an accepted order. The order already exists on the
// exchange, so failures are logged and never returned.
func (e *Impl) record(ctx context.Context, entry db.JournalEntry) {
	entry.CreatedAt = e.now()
	timer := monitor.NewTimer(e.metrics.DBLatency)
	err := e.journal.Insert(context.WithoutCancel(ctx), entry)
	timer.Stop()
	if err != nil {
		e.metrics.IncrementErrors()
		e.log.Error("journal insert failed",
			zap.String("client_order_id", entry.ClientOrderID),
			zap.String("order_id", entry.ExchangeOrderID),
			zap.Error(err))
	}
}

// orderFailed is onExchangeError for requests that would have changed
// account state.
func (e *Impl) orderFailed(ctx context.Context, err error) {
	if errors.Is(err, common.ErrGateway) {
		e.metrics.IncrementOrderFailures()
	}
	e.onExchangeError(ctx, err)
}

// onExchangeError counts gateway failures and re-syncs the clock when the
// exchange rejected a request timestamp. Nothing is retried here.
func (e *Impl) onExchangeError(ctx context.Context, err error) {
	if !errors.Is(err, common.ErrGateway) {
		return
	}
	e.metrics.IncrementErrors()
	if common.IsTimestampRejection(err) {
		offset := e.market.Resync(context.WithoutCancel(ctx))
		e.metrics.IncrementResyncs()
		e.log.Warn("timestamp rejected, clock re-synced", zap.Int64("offset_ms", offset))
	}
}

func failed(intent *risk.TradeIntent, err error) (Result, error) {
	msg := err.Error()
	var v *common.ValidationError
	if errors.As(err, &v) {
		msg = v.Reason
	}
	return Result{Message: msg, Intent: intent}, err
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
