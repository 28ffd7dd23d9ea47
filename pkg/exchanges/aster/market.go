package aster

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
)

// GetServerTime fetches exchange time in milliseconds.
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := c.call(ctx, http.MethodGet, "/fapi/v1/time", false, nil, &res); err != nil {
		return 0, err
	}
	return res.ServerTime, nil
}

// GetExchangeInfo fetches the trading-rules document.
func (c *Client) GetExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	var info ExchangeInfo
	if err := c.call(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", false, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// TickerPrice returns the latest price for symbol.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var params Params
	params.Add("symbol", symbol)
	var res struct {
		Symbol string          `json:"symbol"`
		Price  decimal.Decimal `json:"price"`
	}
	if err := c.call(ctx, http.MethodGet, "/fapi/v1/ticker/price", false, params, &res); err != nil {
		return decimal.Zero, err
	}
	if !res.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("ticker price for %s is %s", symbol, res.Price)
	}
	return res.Price, nil
}

// Ticker24h returns 24h rolling statistics for symbol.
func (c *Client) Ticker24h(ctx context.Context, symbol string) (*Ticker24h, error) {
	var params Params
	params.Add("symbol", symbol)
	var t Ticker24h
	if err := c.call(ctx, http.MethodGet, "/fapi/v1/ticker/24hr", false, params, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// OrderBook returns a depth snapshot.
func (c *Client) OrderBook(ctx context.Context, symbol string, limit int) (*OrderBook, error) {
	var params Params
	params.Add("symbol", symbol)
	if limit > 0 {
		params.Add("limit", strconv.Itoa(limit))
	}
	var ob OrderBook
	if err := c.call(ctx, http.MethodGet, "/fapi/v1/depth", false, params, &ob); err != nil {
		return nil, err
	}
	return &ob, nil
}

// Klines returns candlesticks for symbol at interval ("1m", "1h", ...).
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	var params Params
	params.Add("symbol", symbol)
	params.Add("interval", interval)
	if limit > 0 {
		params.Add("limit", strconv.Itoa(limit))
	}
	var klines []Kline
	if err := c.call(ctx, http.MethodGet, "/fapi/v1/klines", false, params, &klines); err != nil {
		return nil, err
	}
	return klines, nil
}

// FundingRates returns recent funding settlements.
func (c *Client) FundingRates(ctx context.Context, symbol string, limit int) ([]FundingRate, error) {
	var params Params
	params.Add("symbol", symbol)
	if limit > 0 {
		params.Add("limit", strconv.Itoa(limit))
	}
	var rates []FundingRate
	if err := c.call(ctx, http.MethodGet, "/fapi/v1/fundingRate", false, params, &rates); err != nil {
		return nil, err
	}
	return rates, nil
}
