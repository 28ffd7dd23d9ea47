package risk

import (
	"github.com/shopspring/decimal"

	"trade-gateway/pkg/exchanges/common"
)

// maintenanceMarginRate approximates the exchange's lowest tier.
var maintenanceMarginRate = decimal.RequireFromString("0.004")

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// CalculateLiquidationPrice estimates where an isolated position opened at
// entry with leverage would be liquidated. side is LONG or SHORT.
func CalculateLiquidationPrice(entry decimal.Decimal, leverage int, side common.PositionSide) (decimal.Decimal, error) {
	if err := validatePosition(entry, leverage, side); err != nil {
		return decimal.Zero, err
	}
	inv := one.Div(decimal.NewFromInt(int64(leverage)))
	if side == common.PositionLong {
		return entry.Mul(one.Sub(inv).Add(maintenanceMarginRate)), nil
	}
	return entry.Mul(one.Add(inv).Sub(maintenanceMarginRate)), nil
}

// AssessPositionRisk grades an open position. size is its notional in the
// quote asset.
func AssessPositionRisk(size, entry, current decimal.Decimal, leverage int, side common.PositionSide) (PositionAssessment, error) {
	liq, err := CalculateLiquidationPrice(entry, leverage, side)
	if err != nil {
		return PositionAssessment{}, err
	}
	if !current.IsPositive() {
		return PositionAssessment{}, common.NewValidationError("current_price", "must be positive, got %s", current)
	}

	move := current.Sub(entry).Div(entry)
	distance := current.Sub(liq).Div(current).Mul(hundred)
	if side == common.PositionShort {
		move = move.Neg()
		distance = distance.Neg()
	}
	pnlPct := move.Mul(hundred).Mul(decimal.NewFromInt(int64(leverage)))

	level := LevelLow
	switch {
	case distance.LessThan(decimal.NewFromInt(5)):
		level = LevelCritical
	case distance.LessThan(decimal.NewFromInt(10)):
		level = LevelHigh
	case distance.LessThan(decimal.NewFromInt(20)):
		level = LevelMedium
	}

	return PositionAssessment{
		PnLPercent:               pnlPct.Round(2),
		UnrealizedPnL:            size.Mul(move).Round(2),
		LiquidationPrice:         liq.Round(2),
		DistanceToLiquidationPct: distance.Round(2),
		Level:                    level,
		Warnings:                 positionWarnings(level, pnlPct, leverage),
	}, nil
}

func positionWarnings(level Level, pnlPct decimal.Decimal, leverage int) []string {
	warnings := []string{}
	switch level {
	case LevelCritical:
		warnings = append(warnings, "CRITICAL: very close to liquidation")
	case LevelHigh:
		warnings = append(warnings, "HIGH RISK: close to liquidation")
	}
	if pnlPct.LessThan(decimal.NewFromInt(-50)) {
		warnings = append(warnings, "large unrealized loss")
	}
	if leverage > 20 {
		warnings = append(warnings, "very high leverage")
	}
	return warnings
}

func validatePosition(entry decimal.Decimal, leverage int, side common.PositionSide) error {
	if !entry.IsPositive() {
		return common.NewValidationError("entry_price", "must be positive, got %s", entry)
	}
	if leverage < 1 {
		return common.NewValidationError("leverage", "must be at least 1, got %d", leverage)
	}
	if side != common.PositionLong && side != common.PositionShort {
		return common.NewValidationError("side", "must be LONG or SHORT, got %q", side)
	}
	return nil
}
