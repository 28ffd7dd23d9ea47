package order

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"trade-gateway/pkg/exchanges/aster"
	"trade-gateway/pkg/exchanges/common"
)

// quantityPrecision bounds the digits kept when dividing a notional by a
// price; the lot-size floor that follows is exact.
const quantityPrecision = 16

// FilterSource supplies per-symbol trading rules.
type FilterSource interface {
	FiltersFor(ctx context.Context, symbol string) (aster.SymbolFilters, error)
}

// Normalizer fits raw quantities and prices to a symbol's exchange filters.
// It only ever rounds quantities down: the user authorized at most rawQty.
type Normalizer struct {
	filters FilterSource
}

// NewNormalizer creates a normalizer over filters.
func NewNormalizer(filters FilterSource) *Normalizer {
	return &Normalizer{filters: filters}
}

// Normalize returns rawQty floored to the symbol's step size and rendered for
// the wire, or a ValidationError when the result breaks a filter. price is the
// reference price used for the minimum-notional check.
func (n *Normalizer) Normalize(ctx context.Context, symbol string, price, rawQty decimal.Decimal) (string, error) {
	qty, err := n.NormalizeQuantity(ctx, symbol, price, rawQty)
	if err != nil {
		return "", err
	}
	return common.FormatDecimal(qty, common.WirePrecision), nil
}

// NormalizeQuantity is Normalize without the final rendering. Every check
// runs on the value as it will be sent, so rendering never changes it.
func (n *Normalizer) NormalizeQuantity(ctx context.Context, symbol string, price, rawQty decimal.Decimal) (decimal.Decimal, error) {
	if !rawQty.IsPositive() {
		return decimal.Zero, common.NewValidationError("quantity", "must be positive, got %s", rawQty)
	}
	f, err := n.filters.FiltersFor(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("normalize %s: %w", symbol, err)
	}

	qty := rawQty.Truncate(common.WirePrecision)
	if lot := f.LotSize; lot != nil {
		if !lot.StepSize.Truncate(common.WirePrecision).Equal(lot.StepSize) {
			return decimal.Zero, common.NewValidationError("quantity",
				"step size %s of %s is finer than %d decimal places", lot.StepSize, symbol, common.WirePrecision)
		}
		qty = floorToStep(qty, lot.StepSize)
		if qty.LessThan(lot.MinQty) {
			return decimal.Zero, common.NewValidationError("quantity",
				"order amount too small: minimum quantity for %s is %s", symbol, lot.MinQty)
		}
		if lot.MaxQty.IsPositive() && qty.GreaterThan(lot.MaxQty) {
			return decimal.Zero, common.NewValidationError("quantity",
				"order quantity exceeds maximum allowed for %s (%s)", symbol, lot.MaxQty)
		}
	}
	// A step coarser than the request, or a request below the wire
	// precision, floors it to nothing.
	if !qty.IsPositive() {
		return decimal.Zero, common.NewValidationError("quantity",
			"%s rounds to zero at the step size of %s", rawQty, symbol)
	}

	if mn := f.MinNotional; mn != nil && mn.MinNotional.IsPositive() {
		value := qty.Mul(price)
		if value.LessThan(mn.MinNotional) {
			return decimal.Zero, common.NewValidationError("notional",
				"order value $%s is below the minimum $%s required for %s",
				value.StringFixed(2), mn.MinNotional.StringFixed(2), symbol)
		}
	}
	return qty, nil
}

// QuantityForNotional converts a quote-currency amount into a normalized
// base quantity at price.
func (n *Normalizer) QuantityForNotional(ctx context.Context, symbol string, notional, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, common.NewValidationError("price", "reference price must be positive, got %s", price)
	}
	if !notional.IsPositive() {
		return decimal.Zero, common.NewValidationError("amount", "must be positive, got %s", notional)
	}
	raw, _ := notional.QuoRem(price, quantityPrecision)
	return n.NormalizeQuantity(ctx, symbol, price, raw)
}

// NormalizePrice fits a limit price to the symbol's tick size. Buys round
// down and sells round up so the order is never more aggressive than asked.
func (n *Normalizer) NormalizePrice(ctx context.Context, symbol string, side common.Side, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, common.NewValidationError("price", "must be positive, got %s", price)
	}
	f, err := n.filters.FiltersFor(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("normalize price %s: %w", symbol, err)
	}
	pf := f.Price
	if pf == nil {
		return price, nil
	}

	if side == common.SideSell {
		price = ceilToStep(price, pf.TickSize)
	} else {
		price = floorToStep(price, pf.TickSize)
	}
	if !price.IsPositive() || (pf.MinPrice.IsPositive() && price.LessThan(pf.MinPrice)) {
		return decimal.Zero, common.NewValidationError("price", "below minimum price %s for %s", pf.MinPrice, symbol)
	}
	if pf.MaxPrice.IsPositive() && price.GreaterThan(pf.MaxPrice) {
		return decimal.Zero, common.NewValidationError("price", "above maximum price %s for %s", pf.MaxPrice, symbol)
	}
	return price, nil
}

// floorToStep returns the largest multiple of step not above v. The integer
// quotient is exact, so v never rounds up across a step boundary.
func floorToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	q, _ := v.QuoRem(step, 0)
	return q.Mul(step)
}

func ceilToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	q, r := v.QuoRem(step, 0)
	if r.IsPositive() {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q.Mul(step)
}
