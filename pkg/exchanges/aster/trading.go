package aster

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"trade-gateway/pkg/exchanges/common"
)


// SubmitOrder places an order. It is sent once; a lost response does not
// mean the order failed server-side, so callers must not blindly resubmit.
func (c *Client) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if !req.Quantity.Truncate(common.WirePrecision).IsPositive() {
		return common.OrderResult{}, common.NewValidationError("quantity",
			"must be positive at %d decimal places, got %s", common.WirePrecision, req.Quantity)
	}

	var params Params
	params.Add("symbol", req.Symbol)
	params.Add("side", strings.ToUpper(string(req.Side)))
	params.Add("type", strings.ToUpper(string(req.Type)))
	positionSide := req.PositionSide
	if positionSide == "" {
		positionSide = common.PositionBoth
	}
	params.Add("positionSide", string(positionSide))

	if req.Type != common.OrderTypeMarket && req.Type != common.OrderTypeStopMarket && req.Type != common.OrderTypeTakeProfitMarket {
		tif := req.TimeInForce
		if tif == "" {
			tif = common.TIFGTC
		}
		params.Add("timeInForce", string(tif))
	}
	if req.ReduceOnly {
		params.Add("reduceOnly", "true")
	}

	params.Add("quantity", common.FormatDecimal(req.Quantity, common.WirePrecision))
	if req.Type.RequiresPrice() {
		if !req.Price.IsPositive() {
			return common.OrderResult{}, common.NewValidationError("price", "%s order requires a positive price", req.Type)
		}
		params.Add("price", common.FormatDecimal(req.Price, common.WirePrecision))
	}
	if req.Type.RequiresStopPrice() {
		if !req.StopPrice.IsPositive() {
			return common.OrderResult{}, common.NewValidationError("stopPrice", "%s order requires a positive stop price", req.Type)
		}
		params.Add("stopPrice", common.FormatDecimal(req.StopPrice, common.WirePrecision))
		if req.WorkingType != "" {
			params.Add("workingType", req.WorkingType)
		}
	}
	if req.ClientID != "" {
		params.Add("newClientOrderId", req.ClientID)
	}

	var resp orderResp
	if err := c.call(ctx, http.MethodPost, "/fapi/v1/order", true, params, &resp); err != nil {
		return common.OrderResult{}, err
	}
	return resp.toResult(), nil
}

// CancelOrder cancels one order by exchange id or client id.
func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeOrderID, clientOrderID string) (common.OrderResult, error) {
	params, err := orderLookupParams(symbol, exchangeOrderID, clientOrderID)
	if err != nil {
		return common.OrderResult{}, err
	}
	var resp orderResp
	if err := c.call(ctx, http.MethodDelete, "/fapi/v1/order", true, params, &resp); err != nil {
		return common.OrderResult{}, err
	}
	return resp.toResult(), nil
}

// CancelAllOpenOrders cancels all open orders for a symbol.
func (c *Client) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	var params Params
	params.Add("symbol", symbol)
	return c.call(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", true, params, nil)
}

// GetOrder queries one order's status.
func (c *Client) GetOrder(ctx context.Context, symbol, exchangeOrderID, clientOrderID string) (common.OrderResult, error) {
	params, err := orderLookupParams(symbol, exchangeOrderID, clientOrderID)
	if err != nil {
		return common.OrderResult{}, err
	}
	var resp orderResp
	if err := c.call(ctx, http.MethodGet, "/fapi/v1/order", true, params, &resp); err != nil {
		return common.OrderResult{}, err
	}
	return resp.toResult(), nil
}

// GetOpenOrders returns open orders; symbol optional.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	var params Params
	if symbol != "" {
		params.Add("symbol", symbol)
	}
	var orders []OpenOrder
	if err := c.call(ctx, http.MethodGet, "/fapi/v1/openOrders", true, params, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetAllOrders returns active, canceled and filled orders for a symbol.
func (c *Client) GetAllOrders(ctx context.Context, symbol string, limit int) ([]OpenOrder, error) {
	var params Params
	params.Add("symbol", symbol)
	if limit > 0 {
		params.Add("limit", strconv.Itoa(limit))
	}
	var orders []OpenOrder
	if err := c.call(ctx, http.MethodGet, "/fapi/v1/allOrders", true, params, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func orderLookupParams(symbol, exchangeOrderID, clientOrderID string) (Params, error) {
	if exchangeOrderID == "" && clientOrderID == "" {
		return nil, errors.New("aster: order id or client order id required")
	}
	var params Params
	params.Add("symbol", symbol)
	if exchangeOrderID != "" {
		params.Add("orderId", exchangeOrderID)
	}
	if clientOrderID != "" {
		params.Add("origClientOrderId", clientOrderID)
	}
	return params, nil
}

func (r orderResp) toResult() common.OrderResult {
	return common.OrderResult{
		ExchangeOrderID: strconv.FormatInt(r.OrderID, 10),
		ClientID:        r.ClientOrderID,
		Symbol:          r.Symbol,
		Side:            common.Side(r.Side),
		Type:            common.OrderType(r.Type),
		Status:          common.MapStatus(r.Status),
		Quantity:        r.OrigQty,
		ExecutedQty:     r.ExecutedQty,
		AvgPrice:        r.AvgPrice,
		ReduceOnly:      r.ReduceOnly,
	}
}
