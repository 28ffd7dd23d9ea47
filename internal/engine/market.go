package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade-gateway/internal/risk"
	"trade-gateway/pkg/exchanges/common"
)

const (
	summaryBookDepth   = 5
	defaultOrderLimit  = 50
	defaultIncomeLimit = 100
)

// SetMarginType switches symbol between ISOLATED and CROSSED margin.
func (e *Impl) SetMarginType(ctx context.Context, symbol, marginType string) (Result, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return failed(nil, common.NewValidationError("symbol", "Symbol is required"))
	}
	if err := e.orders.SetMarginType(ctx, symbol, marginType); err != nil {
		e.orderFailed(ctx, err)
		return Result{Message: fmt.Sprintf("Failed to set margin type: %v", err)}, err
	}
	mt := strings.ToUpper(marginType)
	if mt == "CROSS" {
		mt = "CROSSED"
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("Margin type set to %s for %s", mt, symbol),
		Data:    MarginTypeData{Symbol: symbol, MarginType: mt},
	}, nil
}

// GetOpenOrders lists working orders, optionally for one symbol.
func (e *Impl) GetOpenOrders(ctx context.Context, symbol string) (Result, error) {
	symbol = normalizeSymbol(symbol)
	orders, err := e.market.GetOpenOrders(ctx, symbol)
	if err != nil {
		e.onExchangeError(ctx, err)
		return Result{Message: fmt.Sprintf("Failed to get open orders: %v", err)}, err
	}

	var msg string
	switch {
	case len(orders) == 0 && symbol != "":
		msg = fmt.Sprintf("No open orders for %s", symbol)
	case len(orders) == 0:
		msg = "No open orders"
	default:
		msg = fmt.Sprintf("Found %d open orders", len(orders))
	}
	return Result{Success: true, Message: msg, Data: OrdersData{Orders: orders}}, nil
}

// GetOrderHistory returns the latest orders of any status on symbol.
func (e *Impl) GetOrderHistory(ctx context.Context, symbol string, limit int) (Result, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return failed(nil, common.NewValidationError("symbol", "Symbol is required"))
	}
	if limit <= 0 {
		limit = defaultOrderLimit
	}
	orders, err := e.market.GetAllOrders(ctx, symbol, limit)
	if err != nil {
		e.onExchangeError(ctx, err)
		return Result{Message: fmt.Sprintf("Failed to get order history: %v", err)}, err
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("Retrieved %d orders for %s", len(orders), symbol),
		Data:    OrdersData{Orders: orders},
	}, nil
}

// GetMarketSummary returns 24h statistics for symbol. The order book and the
// funding rate are best effort; only a ticker failure fails the query.
func (e *Impl) GetMarketSummary(ctx context.Context, symbol string) (Result, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return failed(nil, common.NewValidationError("symbol", "Symbol is required"))
	}
	ticker, err := e.market.Ticker24h(ctx, symbol)
	if err != nil {
		e.onExchangeError(ctx, err)
		return Result{Message: fmt.Sprintf("Failed to get market data: %v", err)}, err
	}
	data := MarketSummary{Symbol: symbol, Ticker: ticker}

	if book, err := e.market.OrderBook(ctx, symbol, summaryBookDepth); err != nil {
		e.log.Warn("order book unavailable", zap.String("symbol", symbol), zap.Error(err))
	} else {
		data.Book = book
	}
	if rates, err := e.market.FundingRates(ctx, symbol, 1); err != nil {
		e.log.Warn("funding rate unavailable", zap.String("symbol", symbol), zap.Error(err))
	} else if len(rates) > 0 {
		data.FundingRate = &rates[len(rates)-1]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: $%s (%s%% 24h)\n", symbol, risk.FormatUSD(ticker.LastPrice), signed(ticker.PriceChangePercent.Round(2)))
	fmt.Fprintf(&b, "24h high $%s, low $%s", risk.FormatUSD(ticker.HighPrice), risk.FormatUSD(ticker.LowPrice))
	if data.Book != nil && len(data.Book.Bids) > 0 && len(data.Book.Asks) > 0 {
		fmt.Fprintf(&b, "\nBid $%s / Ask $%s", risk.FormatUSD(data.Book.Bids[0][0]), risk.FormatUSD(data.Book.Asks[0][0]))
	}
	if data.FundingRate != nil {
		fmt.Fprintf(&b, "\nFunding rate: %s%%", data.FundingRate.FundingRate.Mul(decimal.NewFromInt(100)).StringFixed(4))
	}
	return Result{Success: true, Message: b.String(), Data: data}, nil
}

// GetSymbolRules returns the trading rules the normalizer applies to symbol.
func (e *Impl) GetSymbolRules(ctx context.Context, symbol string) (Result, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return failed(nil, common.NewValidationError("symbol", "Symbol is required"))
	}
	info, ok, err := e.rules.Symbol(ctx, symbol)
	if err != nil {
		e.onExchangeError(ctx, err)
		return Result{Message: fmt.Sprintf("Failed to get trading rules: %v", err)}, err
	}
	if !ok {
		return failed(nil, common.NewValidationError("symbol", "Symbol %s is not listed", symbol))
	}
	filters, err := e.rules.FiltersFor(ctx, symbol)
	if err != nil {
		return Result{Message: fmt.Sprintf("Failed to decode trading rules: %v", err)}, err
	}

	data := SymbolRules{
		Symbol:            info.Symbol,
		Status:            info.Status,
		BaseAsset:         info.BaseAsset,
		QuoteAsset:        info.QuoteAsset,
		PricePrecision:    info.PricePrecision,
		QuantityPrecision: info.QuantityPrecision,
		FilterTypes:       filters.Types(),
		Filters:           filters,
	}
	msg := fmt.Sprintf("%s (%s): filters %s", symbol, info.Status, strings.Join(data.FilterTypes, ", "))
	if lot := filters.LotSize; lot != nil {
		msg += fmt.Sprintf("\nMinimum quantity %s, step %s", lot.MinQty, lot.StepSize)
	}
	if mn := filters.MinNotional; mn != nil {
		msg += fmt.Sprintf("\nMinimum order value $%s", risk.FormatUSD(mn.MinNotional))
	}
	return Result{Success: true, Message: msg, Data: data}, nil
}

// GetAccount returns the account summary.
func (e *Impl) GetAccount(ctx context.Context) (Result, error) {
	info, err := e.market.GetAccountInfo(ctx)
	if err != nil {
		e.onExchangeError(ctx, err)
		return Result{Message: fmt.Sprintf("Failed to get account: %v", err)}, err
	}
	msg := fmt.Sprintf("Wallet $%s, available $%s, unrealized PnL $%s",
		risk.FormatUSD(info.TotalWalletBalance), risk.FormatUSD(info.AvailableBalance), risk.FormatUSD(info.TotalUnrealizedProfit))
	if !info.CanTrade {
		msg += "\nTrading is disabled for this account"
	}
	return Result{Success: true, Message: msg, Data: info}, nil
}

// GetIncome returns income history (realized PnL, funding, commission),
// optionally filtered by symbol and income type.
func (e *Impl) GetIncome(ctx context.Context, symbol, incomeType string, limit int) (Result, error) {
	symbol = normalizeSymbol(symbol)
	if limit <= 0 {
		limit = defaultIncomeLimit
	}
	rows, err := e.market.GetIncome(ctx, symbol, strings.ToUpper(incomeType), limit)
	if err != nil {
		e.onExchangeError(ctx, err)
		return Result{Message: fmt.Sprintf("Failed to get income history: %v", err)}, err
	}
	data := IncomeData{Income: rows, Net: decimal.Zero}
	for _, r := range rows {
		data.Net = data.Net.Add(r.Income)
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("Retrieved %d income records, net $%s", len(rows), risk.FormatUSD(data.Net)),
		Data:    data,
	}, nil
}

func signed(v decimal.Decimal) string {
	if v.IsPositive() {
		return "+" + v.StringFixed(2)
	}
	return v.StringFixed(2)
}
