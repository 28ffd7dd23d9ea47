package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade-gateway/pkg/exchanges/aster"
	"trade-gateway/pkg/exchanges/common"
)

// Exchange is the subset of the venue client the service drives.
type Exchange interface {
	common.Gateway
	GetPositions(ctx context.Context, symbol string) ([]aster.PositionRisk, error)
	TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) (aster.LeverageResult, error)
	SetMarginType(ctx context.Context, symbol, marginType string) error
}

// Service composes normalization and order entry. Every order is sent
// exactly once; nothing here retries a POST.
type Service struct {
	ex   Exchange
	norm *Normalizer
	log  *zap.Logger
}

// NewService creates an order service.
func NewService(ex Exchange, norm *Normalizer, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{ex: ex, norm: norm, log: log.Named("order")}
}

// Normalizer exposes the quantity normalizer in use.
func (s *Service) Normalizer() *Normalizer {
	return s.norm
}

// Place normalizes req and submits it.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (Placement, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return Placement{}, common.NewValidationError("symbol", "required")
	}
	if req.Side != common.SideBuy && req.Side != common.SideSell {
		return Placement{}, common.NewValidationError("side", "must be BUY or SELL, got %q", req.Side)
	}
	typ := req.Type
	if typ == "" {
		typ = common.OrderTypeMarket
	}

	out := common.OrderRequest{
		Symbol:       symbol,
		Side:         req.Side,
		Type:         typ,
		PositionSide: req.PositionSide,
		ReduceOnly:   req.ReduceOnly,
		ClientID:     req.ClientID,
	}
	if out.ClientID == "" {
		out.ClientID = uuid.NewString()
	}
	if typ != common.OrderTypeMarket {
		out.TimeInForce = req.TimeInForce
	}

	if typ.RequiresPrice() {
		price, err := s.norm.NormalizePrice(ctx, symbol, req.Side, req.Price)
		if err != nil {
			return Placement{}, err
		}
		out.Price = price
	}
	if typ.RequiresStopPrice() {
		stop, err := s.norm.NormalizePrice(ctx, symbol, req.Side, req.StopPrice)
		if err != nil {
			return Placement{}, err
		}
		out.StopPrice = stop
	}

	ref, err := s.referencePrice(ctx, symbol, req, out.Price)
	if err != nil {
		return Placement{}, err
	}

	switch {
	case req.Quantity.IsPositive():
		out.Quantity, err = s.norm.NormalizeQuantity(ctx, symbol, ref, req.Quantity)
	case req.Notional.IsPositive():
		out.Quantity, err = s.norm.QuantityForNotional(ctx, symbol, req.Notional, ref)
	default:
		err = common.NewValidationError("quantity", "a positive quantity or notional amount is required")
	}
	if err != nil {
		return Placement{}, err
	}

	start := time.Now()
	res, err := s.ex.SubmitOrder(ctx, out)
	if err != nil {
		s.log.Warn("order rejected",
			zap.String("symbol", symbol),
			zap.String("side", string(out.Side)),
			zap.String("quantity", out.Quantity.String()),
			zap.String("client_order_id", out.ClientID),
			zap.Error(err))
		return Placement{}, fmt.Errorf("place %s %s: %w", out.Side, symbol, err)
	}
	if res.ClientID == "" {
		res.ClientID = out.ClientID
	}
	s.log.Info("order placed",
		zap.String("symbol", symbol),
		zap.String("side", string(out.Side)),
		zap.String("type", string(typ)),
		zap.String("quantity", out.Quantity.String()),
		zap.String("order_id", res.ExchangeOrderID),
		zap.String("status", string(res.Status)),
		zap.Duration("latency", time.Since(start)))

	return Placement{
		Order:          res,
		Quantity:       out.Quantity,
		ReferencePrice: ref,
		Notional:       out.Quantity.Mul(ref),
	}, nil
}

func (s *Service) referencePrice(ctx context.Context, symbol string, req PlaceRequest, limit decimal.Decimal) (decimal.Decimal, error) {
	switch {
	case req.ReferencePrice.IsPositive():
		return req.ReferencePrice, nil
	case limit.IsPositive():
		return limit, nil
	}
	price, err := s.ex.TickerPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("reference price %s: %w", symbol, err)
	}
	return price, nil
}

// Cancel cancels one order by exchange id or client id.
func (s *Service) Cancel(ctx context.Context, symbol, orderID, origClientOrderID string) (common.OrderResult, error) {
	symbol = strings.ToUpper(symbol)
	res, err := s.ex.CancelOrder(ctx, symbol, orderID, origClientOrderID)
	if err != nil {
		return common.OrderResult{}, fmt.Errorf("cancel order on %s: %w", symbol, err)
	}
	s.log.Info("order canceled", zap.String("symbol", symbol), zap.String("order_id", res.ExchangeOrderID))
	return res, nil
}

// CancelAll cancels every open order on symbol.
func (s *Service) CancelAll(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(symbol)
	if err := s.ex.CancelAllOpenOrders(ctx, symbol); err != nil {
		return fmt.Errorf("cancel all on %s: %w", symbol, err)
	}
	s.log.Info("all open orders canceled", zap.String("symbol", symbol))
	return nil
}

// ClosePosition flattens the first open position on symbol with one
// reduce-only market order. positionSide narrows the match in hedge mode.
func (s *Service) ClosePosition(ctx context.Context, symbol string, positionSide common.PositionSide) (CloseResult, error) {
	symbol = strings.ToUpper(symbol)
	if positionSide == "" {
		positionSide = common.PositionBoth
	}
	positions, err := s.ex.GetPositions(ctx, symbol)
	if err != nil {
		return CloseResult{}, fmt.Errorf("positions %s: %w", symbol, err)
	}

	for _, p := range positions {
		if p.Symbol != symbol || p.PositionAmt.IsZero() {
			continue
		}
		if positionSide != common.PositionBoth && common.PositionSide(p.PositionSide) != positionSide {
			continue
		}

		side := common.SideSell
		if p.PositionAmt.IsNegative() {
			side = common.SideBuy
		}
		qty := p.PositionAmt.Abs()
		res, err := s.ex.SubmitOrder(ctx, common.OrderRequest{
			Symbol:       symbol,
			Side:         side,
			Type:         common.OrderTypeMarket,
			Quantity:     qty,
			PositionSide: positionSide,
			// Hedge-mode legs reject the flag; an opposite-side order on
			// the leg already only reduces it.
			ReduceOnly: positionSide == common.PositionBoth,
			ClientID:   uuid.NewString(),
		})
		if err != nil {
			return CloseResult{}, fmt.Errorf("close %s: %w", symbol, err)
		}
		s.log.Info("position closed",
			zap.String("symbol", symbol),
			zap.String("side", string(side)),
			zap.String("quantity", qty.String()),
			zap.String("order_id", res.ExchangeOrderID))
		return CloseResult{Symbol: symbol, PositionSide: positionSide, Closed: qty, Order: &res}, nil
	}

	s.log.Info("no open position to close", zap.String("symbol", symbol))
	return CloseResult{Symbol: symbol, NothingToClose: true, PositionSide: positionSide}, nil
}

// SetLeverage changes initial leverage on symbol.
func (s *Service) SetLeverage(ctx context.Context, symbol string, leverage int) (aster.LeverageResult, error) {
	symbol = strings.ToUpper(symbol)
	res, err := s.ex.SetLeverage(ctx, symbol, leverage)
	if err != nil {
		return aster.LeverageResult{}, fmt.Errorf("set leverage %s %dx: %w", symbol, leverage, err)
	}
	return res, nil
}

// SetMarginType switches symbol between ISOLATED and CROSSED margin.
func (s *Service) SetMarginType(ctx context.Context, symbol, marginType string) error {
	mt := strings.ToUpper(marginType)
	if mt == "CROSS" {
		mt = "CROSSED"
	}
	if mt != "ISOLATED" && mt != "CROSSED" {
		return common.NewValidationError("margin_type", "must be ISOLATED or CROSSED, got %q", marginType)
	}
	if err := s.ex.SetMarginType(ctx, strings.ToUpper(symbol), mt); err != nil {
		return fmt.Errorf("set margin type %s: %w", symbol, err)
	}
	return nil
}
