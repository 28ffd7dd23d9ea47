package aster

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade-gateway/pkg/cache"
)

// Filter type tags as they appear in exchangeInfo.
const (
	FilterLotSize       = "LOT_SIZE"
	FilterMarketLotSize = "MARKET_LOT_SIZE"
	FilterMinNotional   = "MIN_NOTIONAL"
	FilterNotional      = "NOTIONAL"
	FilterPrice         = "PRICE_FILTER"
)

// ExchangeInfo is the trading-rules document.
type ExchangeInfo struct {
	Timezone   string       `json:"timezone"`
	ServerTime int64        `json:"serverTime"`
	Symbols    []SymbolInfo `json:"symbols"`
}

// SymbolInfo describes one tradable symbol.
type SymbolInfo struct {
	Symbol            string            `json:"symbol"`
	Status            string            `json:"status"`
	BaseAsset         string            `json:"baseAsset"`
	QuoteAsset        string            `json:"quoteAsset"`
	PricePrecision    int               `json:"pricePrecision"`
	QuantityPrecision int               `json:"quantityPrecision"`
	Filters           []json.RawMessage `json:"filters"`
}

// LotSizeFilter bounds and quantizes order quantity.
type LotSizeFilter struct {
	MinQty   decimal.Decimal `json:"minQty"`
	MaxQty   decimal.Decimal `json:"maxQty"`
	StepSize decimal.Decimal `json:"stepSize"`
}

// MinNotionalFilter bounds order value (quantity × price).
type MinNotionalFilter struct {
	MinNotional decimal.Decimal
}

// PriceFilter bounds and quantizes order price.
type PriceFilter struct {
	MinPrice decimal.Decimal `json:"minPrice"`
	MaxPrice decimal.Decimal `json:"maxPrice"`
	TickSize decimal.Decimal `json:"tickSize"`
}

// SymbolFilters holds the decoded filters of one symbol, keyed by type. A nil
// field means the exchange publishes no such constraint; the zero value
// therefore means "no known constraint", not "invalid symbol".
type SymbolFilters struct {
	LotSize       *LotSizeFilter     `json:"lot_size,omitempty"`
	MarketLotSize *LotSizeFilter     `json:"market_lot_size,omitempty"`
	MinNotional   *MinNotionalFilter `json:"min_notional,omitempty"`
	Price         *PriceFilter       `json:"price_filter,omitempty"`
}

// Types lists the filter types present.
func (f SymbolFilters) Types() []string {
	var out []string
	if f.LotSize != nil {
		out = append(out, FilterLotSize)
	}
	if f.MarketLotSize != nil {
		out = append(out, FilterMarketLotSize)
	}
	if f.MinNotional != nil {
		out = append(out, FilterMinNotional)
	}
	if f.Price != nil {
		out = append(out, FilterPrice)
	}
	return out
}

// DecodeFilters decodes a symbol's heterogeneous filter payloads into typed
// structs. Unknown filter types are ignored.
func DecodeFilters(raw []json.RawMessage) (SymbolFilters, error) {
	var out SymbolFilters
	for _, r := range raw {
		var tag struct {
			FilterType string `json:"filterType"`
		}
		if err := json.Unmarshal(r, &tag); err != nil {
			return SymbolFilters{}, fmt.Errorf("decode filter type: %w", err)
		}
		switch tag.FilterType {
		case FilterLotSize, FilterMarketLotSize:
			var lot LotSizeFilter
			if err := json.Unmarshal(r, &lot); err != nil {
				return SymbolFilters{}, fmt.Errorf("decode %s: %w", tag.FilterType, err)
			}
			if tag.FilterType == FilterLotSize {
				out.LotSize = &lot
			} else {
				out.MarketLotSize = &lot
			}
		case FilterMinNotional, FilterNotional:
			var n struct {
				Notional    decimal.NullDecimal `json:"notional"`
				MinNotional decimal.NullDecimal `json:"minNotional"`
			}
			if err := json.Unmarshal(r, &n); err != nil {
				return SymbolFilters{}, fmt.Errorf("decode %s: %w", tag.FilterType, err)
			}
			min := n.Notional
			if !min.Valid {
				min = n.MinNotional
			}
			if min.Valid && (out.MinNotional == nil || tag.FilterType == FilterMinNotional) {
				out.MinNotional = &MinNotionalFilter{MinNotional: min.Decimal}
			}
		case FilterPrice:
			var p PriceFilter
			if err := json.Unmarshal(r, &p); err != nil {
				return SymbolFilters{}, fmt.Errorf("decode %s: %w", tag.FilterType, err)
			}
			out.Price = &p
		}
	}
	return out, nil
}

// ExchangeInfoSource fetches the trading-rules document.
type ExchangeInfoSource interface {
	GetExchangeInfo(ctx context.Context) (*ExchangeInfo, error)
}

// FilterCache fetches the trading-rules document once per process and
// memoizes decoded per-symbol filters.
type FilterCache struct {
	source ExchangeInfoSource
	log    *zap.Logger

	mu      sync.RWMutex
	symbols map[string]SymbolInfo // nil until the first successful fetch

	filters *cache.Sharded[SymbolFilters]
}

// NewFilterCache creates an empty cache over source.
func NewFilterCache(source ExchangeInfoSource, log *zap.Logger) *FilterCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &FilterCache{
		source:  source,
		log:     log,
		filters: cache.NewSharded[SymbolFilters](),
	}
}

// FiltersFor returns the filters of symbol. The first call fetches the
// exchange rules; later calls for seen symbols do no I/O. Unknown symbols
// yield the zero SymbolFilters.
func (fc *FilterCache) FiltersFor(ctx context.Context, symbol string) (SymbolFilters, error) {
	if f, ok := fc.filters.Get(symbol); ok {
		return f, nil
	}

	symbols, err := fc.document(ctx)
	if err != nil {
		return SymbolFilters{}, err
	}

	info, ok := symbols[symbol]
	if !ok {
		fc.log.Debug("symbol not in exchange info, no filters applied", zap.String("symbol", symbol))
		return fc.filters.SetIfAbsent(symbol, SymbolFilters{}), nil
	}
	decoded, err := DecodeFilters(info.Filters)
	if err != nil {
		return SymbolFilters{}, fmt.Errorf("filters for %s: %w", symbol, err)
	}
	return fc.filters.SetIfAbsent(symbol, decoded), nil
}

// Symbol returns the rules entry for symbol, if known.
func (fc *FilterCache) Symbol(ctx context.Context, symbol string) (SymbolInfo, bool, error) {
	symbols, err := fc.document(ctx)
	if err != nil {
		return SymbolInfo{}, false, err
	}
	info, ok := symbols[symbol]
	return info, ok, nil
}

// document returns the indexed rules, fetching them on first use. Concurrent
// first callers may fetch redundantly; the document does not change within
// the process lifetime so the first stored copy wins.
func (fc *FilterCache) document(ctx context.Context) (map[string]SymbolInfo, error) {
	fc.mu.RLock()
	symbols := fc.symbols
	fc.mu.RUnlock()
	if symbols != nil {
		return symbols, nil
	}

	info, err := fc.source.GetExchangeInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch exchange info: %w", err)
	}
	indexed := make(map[string]SymbolInfo, len(info.Symbols))
	for _, s := range info.Symbols {
		indexed[s.Symbol] = s
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.symbols == nil {
		fc.symbols = indexed
		fc.log.Info("exchange info cached", zap.Int("symbols", len(indexed)))
	}
	return fc.symbols, nil
}
