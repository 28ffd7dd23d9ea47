package aster

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// GetBalance returns futures balances per asset.
func (c *Client) GetBalance(ctx context.Context) ([]FuturesBalance, error) {
	var bal []FuturesBalance
	if err := c.call(ctx, http.MethodGet, "/fapi/v2/balance", true, nil, &bal); err != nil {
		return nil, err
	}
	return bal, nil
}

// GetAccountInfo returns account-level balances and flags.
func (c *Client) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	var info AccountInfo
	if err := c.call(ctx, http.MethodGet, "/fapi/v2/account", true, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetPositions returns the position risk view; symbol optional.
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]PositionRisk, error) {
	var params Params
	if symbol != "" {
		params.Add("symbol", symbol)
	}
	var pos []PositionRisk
	if err := c.call(ctx, http.MethodGet, "/fapi/v2/positionRisk", true, params, &pos); err != nil {
		return nil, err
	}
	return pos, nil
}

// GetUserTrades returns the account's fills for a symbol.
func (c *Client) GetUserTrades(ctx context.Context, symbol string, limit int) ([]UserTrade, error) {
	var params Params
	params.Add("symbol", symbol)
	if limit > 0 {
		params.Add("limit", strconv.Itoa(limit))
	}
	var trades []UserTrade
	if err := c.call(ctx, http.MethodGet, "/fapi/v1/userTrades", true, params, &trades); err != nil {
		return nil, err
	}
	return trades, nil
}

// GetIncome fetches income history.
func (c *Client) GetIncome(ctx context.Context, symbol, incomeType string, limit int) ([]Income, error) {
	var params Params
	if symbol != "" {
		params.Add("symbol", symbol)
	}
	if incomeType != "" {
		params.Add("incomeType", incomeType)
	}
	if limit > 0 {
		params.Add("limit", strconv.Itoa(limit))
	}
	var income []Income
	if err := c.call(ctx, http.MethodGet, "/fapi/v1/income", true, params, &income); err != nil {
		return nil, err
	}
	return income, nil
}

// SetLeverage changes initial leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) (LeverageResult, error) {
	var params Params
	params.Add("symbol", symbol)
	params.Add("leverage", strconv.Itoa(leverage))
	var res LeverageResult
	if err := c.call(ctx, http.MethodPost, "/fapi/v1/leverage", true, params, &res); err != nil {
		return LeverageResult{}, err
	}
	return res, nil
}

// SetMarginType sets margin type (ISOLATED or CROSSED).
func (c *Client) SetMarginType(ctx context.Context, symbol, marginType string) error {
	var params Params
	params.Add("symbol", symbol)
	params.Add("marginType", strings.ToUpper(marginType))
	return c.call(ctx, http.MethodPost, "/fapi/v1/marginType", true, params, nil)
}
