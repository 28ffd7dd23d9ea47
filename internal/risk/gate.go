package risk

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade-gateway/pkg/exchanges/common"
)

const dayLayout = "2006-01-02"

// highLeverage is the level above which leverage changes carry a warning.
const highLeverage = 10

var halfBalance = decimal.NewFromFloat(0.5)

// Gate enforces account-level limits before an order is sent and tracks the
// day's trade count and realized PnL. Daily state lives in process memory and
// resets when the UTC date advances.
type Gate struct {
	cfg Config
	now func() time.Time
	log *zap.Logger

	mu     sync.Mutex
	day    string
	trades int
	pnl    decimal.Decimal

	// exec serializes check, place and record across callers.
	exec sync.Mutex

	checks     atomic.Uint64
	rejections atomic.Uint64
}

// NewGate creates a gate with the given limits.
func NewGate(cfg Config, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gate{cfg: cfg, now: time.Now, log: log.Named("risk")}
	g.day = g.today()
	g.log.Info("risk gate initialized",
		zap.String("max_single_trade", cfg.MaxSingleTrade.String()),
		zap.Int("max_leverage", cfg.MaxLeverage),
		zap.String("confirm_threshold", cfg.ConfirmThreshold.String()),
		zap.Int("max_daily_trades", cfg.MaxDailyTrades),
		zap.String("max_daily_loss", cfg.MaxDailyLoss.String()))
	return g
}

// SetClock replaces the wall clock; used to test day rollover.
func (g *Gate) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
	g.day = g.today()
}

// Config returns the limits in force.
func (g *Gate) Config() Config {
	return g.cfg
}

func (g *Gate) today() string {
	return g.now().UTC().Format(dayLayout)
}

// rollover resets the daily record once the UTC date has moved past it.
// Caller holds mu.
func (g *Gate) rollover() {
	today := g.today()
	if today > g.day {
		if g.trades > 0 || !g.pnl.IsZero() {
			g.log.Info("daily risk state reset",
				zap.String("previous_day", g.day),
				zap.Int("trades", g.trades),
				zap.String("pnl", g.pnl.String()))
		}
		g.day = today
		g.trades = 0
		g.pnl = decimal.Zero
	}
}

// CheckTradeRisk decides whether intent may proceed. balance is the available
// quote balance, nil when unknown. Checks run in a fixed order and the first
// rejection wins. An amount above half the balance does not short-circuit to
// an allow: it only sets NeedsConfirmation, and the daily trade and loss
// limits that follow can still reject it.
func (g *Gate) CheckTradeRisk(intent TradeIntent, balance *decimal.Decimal) Decision {
	g.checks.Add(1)
	d := g.check(intent, balance)
	if !d.Allowed {
		g.rejections.Add(1)
		g.log.Info("trade rejected",
			zap.String("action", string(intent.Action)),
			zap.String("symbol", intent.Symbol),
			zap.String("reason", d.Reason))
	}
	return d
}

func (g *Gate) check(intent TradeIntent, balance *decimal.Decimal) Decision {
	if !intent.Action.Opening() {
		return Decision{Allowed: true}
	}

	if intent.Amount == nil || !intent.Amount.IsPositive() {
		return reject(common.NewValidationError("amount", "Trade amount is required"))
	}
	amount := *intent.Amount

	if amount.GreaterThan(g.cfg.MaxSingleTrade) {
		return reject(common.NewValidationError("amount", "Trade amount $%s exceeds maximum $%s",
			FormatUSD(amount), FormatUSD(g.cfg.MaxSingleTrade)))
	}
	if intent.Leverage > g.cfg.MaxLeverage {
		return reject(common.NewValidationError("leverage", "Leverage %dx exceeds maximum %dx",
			intent.Leverage, g.cfg.MaxLeverage))
	}

	needsConfirmation := false
	if balance != nil {
		if amount.GreaterThan(*balance) {
			return reject(&common.RiskRejection{
				Reason: fmt.Sprintf("Insufficient balance. Available: $%s", FormatUSD(*balance)),
			})
		}
		if amount.GreaterThan(balance.Mul(halfBalance)) {
			needsConfirmation = true
		}
	}

	g.mu.Lock()
	g.rollover()
	trades, pnl := g.trades, g.pnl
	g.mu.Unlock()

	if trades >= g.cfg.MaxDailyTrades {
		return reject(&common.RiskRejection{
			Reason: fmt.Sprintf("Daily trade limit (%d) reached", g.cfg.MaxDailyTrades),
		})
	}
	if pnl.LessThan(g.cfg.MaxDailyLoss.Neg()) {
		return reject(&common.RiskRejection{
			Reason: fmt.Sprintf("Daily loss limit ($%s) reached", FormatUSD(g.cfg.MaxDailyLoss)),
		})
	}

	if amount.GreaterThanOrEqual(g.cfg.ConfirmThreshold) {
		needsConfirmation = true
	}
	return Decision{Allowed: true, NeedsConfirmation: needsConfirmation}
}

func reject(err error) Decision {
	reason := err.Error()
	if v, ok := err.(*common.ValidationError); ok {
		reason = v.Reason
	}
	return Decision{Reason: reason, err: err}
}

// RecordTrade counts one accepted order against today's limits. Call it once
// per order, only after the exchange accepted it.
func (g *Gate) RecordTrade(amount, pnl decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()
	g.trades++
	g.pnl = g.pnl.Add(pnl)
	g.log.Debug("trade recorded",
		zap.String("amount", amount.String()),
		zap.String("pnl", pnl.String()),
		zap.Int("daily_trades", g.trades))
}

// DailyStats returns today's counters.
func (g *Gate) DailyStats() DailyStats {
	g.mu.Lock()
	g.rollover()
	day, trades, pnl := g.day, g.trades, g.pnl
	g.mu.Unlock()

	remaining := g.cfg.MaxDailyTrades - trades
	if remaining < 0 {
		remaining = 0
	}
	lossRemaining := g.cfg.MaxDailyLoss.Add(pnl)
	if lossRemaining.IsNegative() {
		lossRemaining = decimal.Zero
	}
	return DailyStats{
		Date:               day,
		TradesCount:        trades,
		TotalPnL:           pnl,
		TradesRemaining:    remaining,
		LossLimitRemaining: lossRemaining,
		ChecksTotal:        g.checks.Load(),
		RejectionsTotal:    g.rejections.Load(),
	}
}

// ValidateLeverage rejects leverage outside [1, MaxLeverage]. A non-empty
// warning accompanies accepted but high values.
func (g *Gate) ValidateLeverage(leverage int) (warning string, err error) {
	if leverage < 1 {
		return "", common.NewValidationError("leverage", "Leverage must be at least 1x")
	}
	if leverage > g.cfg.MaxLeverage {
		return "", common.NewValidationError("leverage", "Leverage %dx exceeds maximum %dx", leverage, g.cfg.MaxLeverage)
	}
	if leverage > highLeverage {
		return fmt.Sprintf("High leverage (%dx) increases liquidation risk", leverage), nil
	}
	return "", nil
}

// Exclusive runs fn while holding the gate's execution lock, so that a
// check, the order it admits and the matching RecordTrade are not
// interleaved with another caller's.
func (g *Gate) Exclusive(fn func() error) error {
	g.exec.Lock()
	defer g.exec.Unlock()
	return fn()
}

// FormatUSD renders v with two decimals and thousands separators.
func FormatUSD(v decimal.Decimal) string {
	s := v.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String() + "." + frac
	if neg {
		out = "-" + out
	}
	return out
}
