package order

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"trade-gateway/pkg/exchanges/aster"
	"trade-gateway/pkg/exchanges/common"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type staticFilters struct {
	bySymbol map[string]aster.SymbolFilters
	err      error
}

func (s staticFilters) FiltersFor(_ context.Context, symbol string) (aster.SymbolFilters, error) {
	if s.err != nil {
		return aster.SymbolFilters{}, s.err
	}
	return s.bySymbol[symbol], nil
}

func lot(step, min, max string) *aster.LotSizeFilter {
	return &aster.LotSizeFilter{StepSize: d(step), MinQty: d(min), MaxQty: d(max)}
}

func testNormalizer() *Normalizer {
	return NewNormalizer(staticFilters{bySymbol: map[string]aster.SymbolFilters{
		"BTCUSDT": {
			LotSize:     lot("0.001", "0.001", "1000"),
			MinNotional: &aster.MinNotionalFilter{MinNotional: d("5")},
			Price:       &aster.PriceFilter{TickSize: d("0.10"), MinPrice: d("0.10"), MaxPrice: d("1000000")},
		},
		"STEPONE":  {LotSize: lot("1", "1", "0")},
		"FINESTEP": {LotSize: lot("0.0001", "0", "0")},
		"COARSE":   {LotSize: lot("5", "0", "0")},
		"SUBWIRE":  {LotSize: lot("0.000000001", "0.000000005", "0")},
		"NOTIONAL": {MinNotional: &aster.MinNotionalFilter{MinNotional: d("5")}},
	}})
}

func TestNormalize(t *testing.T) {
	n := testNormalizer()
	ctx := context.Background()

	tests := []struct {
		name    string
		symbol  string
		price   string
		qty     string
		want    string
		wantErr string // ValidationError field
	}{
		{name: "floors to step", symbol: "BTCUSDT", price: "100", qty: "1.23456789", want: "1.234"},
		{name: "exact multiple unchanged", symbol: "BTCUSDT", price: "100", qty: "0.5", want: "0.5"},
		{name: "never rounds up", symbol: "BTCUSDT", price: "30000", qty: "0.0019999", want: "0.001"},
		{name: "integer step", symbol: "STEPONE", price: "1", qty: "5.9", want: "5"},
		{name: "trailing zeros trimmed", symbol: "FINESTEP", price: "1", qty: "1.20000", want: "1.2"},
		{name: "no filters passes through", symbol: "UNKNOWN", price: "1", qty: "0.12345", want: "0.12345"},
		{name: "below min qty", symbol: "BTCUSDT", price: "100000", qty: "0.0005", wantErr: "quantity"},
		{name: "above max qty", symbol: "BTCUSDT", price: "1", qty: "2000", wantErr: "quantity"},
		{name: "below min notional", symbol: "BTCUSDT", price: "100", qty: "0.01", wantErr: "notional"},
		{name: "floors to zero", symbol: "COARSE", price: "1", qty: "4.99", wantErr: "quantity"},
		{name: "truncated to wire precision", symbol: "UNKNOWN", price: "1", qty: "0.123456789", want: "0.12345678"},
		{name: "step finer than wire precision", symbol: "SUBWIRE", price: "1", qty: "0.000000007", wantErr: "quantity"},
		{name: "below wire precision without filters", symbol: "UNKNOWN", price: "1", qty: "0.000000004", wantErr: "quantity"},
		{name: "below wire precision with min notional", symbol: "NOTIONAL", price: "1000000000", qty: "0.000000009", wantErr: "quantity"},
		{name: "zero", symbol: "BTCUSDT", price: "100", qty: "0", wantErr: "quantity"},
		{name: "negative", symbol: "BTCUSDT", price: "100", qty: "-1", wantErr: "quantity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Normalize(ctx, tt.symbol, d(tt.price), d(tt.qty))
			if tt.wantErr != "" {
				var vErr *common.ValidationError
				if !errors.As(err, &vErr) {
					t.Fatalf("err=%v, expected ValidationError", err)
				}
				if vErr.Field != tt.wantErr {
					t.Fatalf("field=%s, expected %s", vErr.Field, tt.wantErr)
				}
				if got != "" {
					t.Fatalf("quantity=%q returned with an error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Normalize=%s, expected %s", got, tt.want)
			}
		})
	}
}

func TestNormalizeErrorNamesBound(t *testing.T) {
	n := testNormalizer()
	_, err := n.Normalize(context.Background(), "BTCUSDT", d("100"), d("0.01"))
	if err == nil {
		t.Fatal("expected min notional error")
	}
	want := "invalid notional: order value $1.00 is below the minimum $5.00 required for BTCUSDT"
	if err.Error() != want {
		t.Fatalf("err=%q, expected %q", err.Error(), want)
	}
}

func TestNormalizeFilterFetchError(t *testing.T) {
	boom := errors.New("exchange info down")
	n := NewNormalizer(staticFilters{err: boom})

	_, err := n.Normalize(context.Background(), "BTCUSDT", d("100"), d("1"))
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v, expected wrapped fetch error", err)
	}
	var vErr *common.ValidationError
	if errors.As(err, &vErr) {
		t.Fatal("fetch failure reported as a validation error")
	}
}

func TestNormalizeProperties(t *testing.T) {
	steps := []string{"1", "0.1", "0.001", "0.00001", "0.00000001", "5", "0.025"}
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()

	for i := 0; i < 2000; i++ {
		step := d(steps[rng.Intn(len(steps))])
		min := step.Mul(decimal.NewFromInt(int64(rng.Intn(3))))
		n := NewNormalizer(staticFilters{bySymbol: map[string]aster.SymbolFilters{
			"X": {LotSize: &aster.LotSizeFilter{StepSize: step, MinQty: min}},
		}})
		// Up to 10 significant decimals, magnitude 1e-4..1e4.
		raw := decimal.New(rng.Int63n(10_000_000_000)+1, int32(-rng.Intn(10)-1)).Mul(decimal.New(1, int32(rng.Intn(9)-4)))

		qty, err := n.NormalizeQuantity(ctx, "X", d("1"), raw)
		if err != nil {
			var vErr *common.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("raw=%s step=%s: unexpected error %v", raw, step, err)
			}
			continue
		}
		if !qty.IsPositive() {
			t.Fatalf("raw=%s step=%s: qty=%s not positive", raw, step, qty)
		}
		if qty.GreaterThan(raw) {
			t.Fatalf("raw=%s step=%s: qty=%s exceeds raw", raw, step, qty)
		}
		if qty.LessThan(min) {
			t.Fatalf("raw=%s step=%s: qty=%s below min %s", raw, step, qty, min)
		}
		if !qty.Mod(step).IsZero() {
			t.Fatalf("raw=%s step=%s: qty=%s not a step multiple", raw, step, qty)
		}
		if raw.Sub(qty).GreaterThanOrEqual(step) {
			t.Fatalf("raw=%s step=%s: qty=%s floored more than one step", raw, step, qty)
		}

		// The rendered quantity is exactly the checked one.
		wire, err := n.Normalize(ctx, "X", d("1"), raw)
		if err != nil {
			t.Fatalf("raw=%s step=%s: Normalize: %v", raw, step, err)
		}
		sent := d(wire)
		if !sent.Equal(qty) || !sent.IsPositive() || sent.LessThan(min) {
			t.Fatalf("raw=%s step=%s: sent %q, checked %s", raw, step, wire, qty)
		}
	}
}

func TestQuantityForNotional(t *testing.T) {
	n := testNormalizer()
	ctx := context.Background()

	tests := []struct {
		name     string
		symbol   string
		notional string
		price    string
		want     string
		wantErr  bool
	}{
		{name: "btc", symbol: "BTCUSDT", notional: "100", price: "30000", want: "0.003"},
		{name: "exact division", symbol: "STEPONE", notional: "0.3", price: "0.1", want: "3"},
		{name: "repeating fraction floors", symbol: "FINESTEP", notional: "10", price: "3", want: "3.3333"},
		{name: "too small for min notional", symbol: "BTCUSDT", notional: "4", price: "100", wantErr: true},
		{name: "zero price", symbol: "BTCUSDT", notional: "100", price: "0", wantErr: true},
		{name: "zero notional", symbol: "BTCUSDT", notional: "0", price: "100", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.QuantityForNotional(ctx, tt.symbol, d(tt.notional), d(tt.price))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("QuantityForNotional=%s, expected error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("QuantityForNotional: %v", err)
			}
			if got.String() != tt.want {
				t.Fatalf("QuantityForNotional=%s, expected %s", got, tt.want)
			}
		})
	}
}

func TestNormalizePrice(t *testing.T) {
	n := testNormalizer()
	ctx := context.Background()

	tests := []struct {
		name    string
		symbol  string
		side    common.Side
		price   string
		want    string
		wantErr bool
	}{
		{name: "buy floors", symbol: "BTCUSDT", side: common.SideBuy, price: "65000.57", want: "65000.5"},
		{name: "sell ceils", symbol: "BTCUSDT", side: common.SideSell, price: "65000.51", want: "65000.6"},
		{name: "on tick unchanged", symbol: "BTCUSDT", side: common.SideSell, price: "65000.5", want: "65000.5"},
		{name: "no price filter", symbol: "STEPONE", side: common.SideBuy, price: "1.23456", want: "1.23456"},
		{name: "buy floors below min", symbol: "BTCUSDT", side: common.SideBuy, price: "0.05", wantErr: true},
		{name: "above max", symbol: "BTCUSDT", side: common.SideSell, price: "2000000", wantErr: true},
		{name: "non-positive", symbol: "BTCUSDT", side: common.SideBuy, price: "0", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.NormalizePrice(ctx, tt.symbol, tt.side, d(tt.price))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NormalizePrice=%s, expected error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizePrice: %v", err)
			}
			if got.String() != tt.want {
				t.Fatalf("NormalizePrice=%s, expected %s", got, tt.want)
			}
		})
	}
}
