// Package aster is a REST client for AsterDEX perpetual futures, which speak
// the Binance USDT-M futures dialect (/fapi paths, X-MBX-APIKEY header,
// HMAC-SHA256 query signatures).
package aster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"trade-gateway/pkg/exchanges/common"
)

const (
	mainnetURL = "https://fapi.asterdex.com"
	testnetURL = "https://testnet.asterdex.com"

	apiKeyHeader     = "X-MBX-APIKEY"
	usedWeightHeader = "X-MBX-USED-WEIGHT-1M"
)

var errMissingCredentials = errors.New("aster: API key/secret required for signed endpoints")

// Config holds AsterDEX futures credentials and transport settings.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	BaseURL   string // overrides the Testnet switch when set

	RecvWindow          int64 // ms; omitted from requests when 0
	Timeout             time.Duration
	RequestsPerSecond   float64 // client-side pacing; 0 disables
	ClockResyncInterval time.Duration
}

// Client handles AsterDEX futures REST calls.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	timeSync   *common.TimeSync
	weight     *common.WeightTracker
	limiter    *rate.Limiter
	log        *zap.Logger
}

// NewClient creates a futures client. It does no I/O; call Start to run the
// clock sync. Until then signed requests use the fallback offset.
func NewClient(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	base := mainnetURL
	if cfg.Testnet {
		base = testnetURL
	}
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 8

	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		log:        log.Named("aster"),
	}
	c.timeSync = common.NewTimeSync(c.GetServerTime, cfg.ClockResyncInterval, c.log)
	c.weight = common.NewWeightTracker(2400, time.Minute, c.log) // 2400 weight/min for futures
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

// Start synchronizes the clock and keeps it re-synced per ClockResyncInterval.
func (c *Client) Start(ctx context.Context) {
	c.timeSync.Start(ctx)
}

// Resync re-runs the clock sync and returns the new offset.
func (c *Client) Resync(ctx context.Context) int64 {
	return c.timeSync.Sync(ctx)
}

// ClockOffset returns the current offset in milliseconds.
func (c *Client) ClockOffset() int64 {
	return c.timeSync.Offset()
}

// WeightUsage reports the last seen request-weight usage.
func (c *Client) WeightUsage() (used, limit int, pct float64) {
	return c.weight.Usage()
}

// Request issues one REST call and returns the raw JSON body. Signed calls
// get timestamp and then signature appended; the signature covers the
// timestamp. Nothing is retried here.
func (c *Client) Request(ctx context.Context, method, path string, signed bool, params Params) (json.RawMessage, error) {
	params = append(Params(nil), params...)

	if signed {
		if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
			return nil, errMissingCredentials
		}
		if c.cfg.RecvWindow > 0 {
			params.Add("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
		}
		params.Add("timestamp", strconv.FormatInt(c.timeSync.Now(), 10))
		params.Add(signatureKey, Sign(params, c.cfg.APISecret))
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &common.TransportError{Method: method, Path: path, Err: err}
		}
	}

	var (
		req     *http.Request
		err     error
		encoded = params.Encode()
	)
	switch method {
	case http.MethodGet, http.MethodDelete:
		target := c.baseURL + path
		if encoded != "" {
			target += "?" + encoded
		}
		req, err = http.NewRequestWithContext(ctx, method, target, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set(apiKeyHeader, c.cfg.APIKey)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &common.TransportError{Method: method, Path: path, Err: err}
	}
	defer res.Body.Close()

	c.weight.UpdateFromHeader(res.Header.Get(usedWeightHeader))

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &common.TransportError{Method: method, Path: path, Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		exErr := &common.ExchangeError{
			Method: method,
			Path:   path,
			Status: res.StatusCode,
			Body:   string(body),
		}
		var envelope struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &envelope) == nil {
			exErr.Code = envelope.Code
			exErr.Message = envelope.Msg
		}
		c.log.Warn("exchange rejected request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", res.StatusCode),
			zap.Int("code", exErr.Code),
			zap.String("msg", exErr.Message))
		return nil, exErr
	}
	return body, nil
}

// call issues a request and decodes the JSON body into out.
func (c *Client) call(ctx context.Context, method, path string, signed bool, params Params, out any) error {
	body, err := c.Request(ctx, method, path, signed, params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
