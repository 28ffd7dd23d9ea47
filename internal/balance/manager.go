package balance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade-gateway/pkg/cache"
	"trade-gateway/pkg/exchanges/aster"
)

// ExchangeClient is the futures balance endpoint.
type ExchangeClient interface {
	GetBalance(ctx context.Context) ([]aster.FuturesBalance, error)
}

// Balance is one asset's futures wallet.
type Balance struct {
	Asset         string          `json:"asset"`
	Total         decimal.Decimal `json:"total"`
	Available     decimal.Decimal `json:"available"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Manager serves the account balance from a short-lived cache. A failed
// read is returned to the caller; no default balance is ever substituted.
type Manager struct {
	exchange ExchangeClient
	asset    string
	maxAge   time.Duration
	cache    *cache.Sharded[Balance]
	log      *zap.Logger
}

// NewManager creates a balance manager for asset (e.g. USDT). Cached values
// older than maxAge are refetched; maxAge 0 always refetches.
func NewManager(exchange ExchangeClient, asset string, maxAge time.Duration, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		exchange: exchange,
		asset:    strings.ToUpper(asset),
		maxAge:   maxAge,
		cache:    cache.NewSharded[Balance](),
		log:      log.Named("balance"),
	}
}

// Asset returns the quote asset this manager reports.
func (m *Manager) Asset() string {
	return m.asset
}

// Start begins periodic balance sync every interval. A zero interval only
// performs the initial sync.
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	if _, err := m.Sync(ctx); err != nil {
		m.log.Warn("initial balance sync failed", zap.Error(err))
	}
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := m.Sync(ctx); err != nil {
					m.log.Warn("balance sync failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sync fetches all asset balances and refreshes the cache.
func (m *Manager) Sync(ctx context.Context) ([]Balance, error) {
	rows, err := m.exchange.GetBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch balance: %w", err)
	}

	out := make([]Balance, 0, len(rows))
	for _, r := range rows {
		b := Balance{
			Asset:         strings.ToUpper(r.Asset),
			Total:         r.Balance,
			Available:     r.AvailableBalance,
			UnrealizedPnL: r.CrossUnPnl,
		}
		m.cache.Set(b.Asset, b)
		out = append(out, b)
	}

	if b, ok := m.cache.Get(m.asset); ok {
		m.log.Debug("balance synced",
			zap.String("asset", b.Asset),
			zap.String("total", b.Total.String()),
			zap.String("available", b.Available.String()))
	}
	return out, nil
}

// Available returns the available balance of the configured asset. An asset
// missing from the exchange response counts as zero.
func (m *Manager) Available(ctx context.Context) (decimal.Decimal, error) {
	if b, age, ok := m.cache.GetWithAge(m.asset); ok && m.maxAge > 0 && age <= m.maxAge {
		return b.Available, nil
	}
	if _, err := m.Sync(ctx); err != nil {
		return decimal.Zero, err
	}
	b, ok := m.cache.Get(m.asset)
	if !ok {
		m.log.Warn("asset missing from balance response", zap.String("asset", m.asset))
		return decimal.Zero, nil
	}
	return b.Available, nil
}

// Invalidate drops the cached asset balance so the next read refetches. Called
// after an order changes margin usage.
func (m *Manager) Invalidate() {
	m.cache.Delete(m.asset)
}
