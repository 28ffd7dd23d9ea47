package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trade-gateway/internal/engine"
	"trade-gateway/internal/monitor"
	"trade-gateway/internal/risk"
	"trade-gateway/pkg/db"
	"trade-gateway/pkg/exchanges/common"
)

// stubEngine answers every command with res/err and records arguments.
type stubEngine struct {
	res engine.Result
	err error

	lastIntent  risk.TradeIntent
	lastConfirm bool
	lastSymbol  string
	lastLimit   int
	lastSide    common.PositionSide
	lastArg     string
	journal     []db.JournalEntry
}

var _ engine.Service = (*stubEngine)(nil)

func (s *stubEngine) Execute(_ context.Context, intent risk.TradeIntent, confirm bool) (engine.Result, error) {
	s.lastIntent, s.lastConfirm = intent, confirm
	return s.res, s.err
}

func (s *stubEngine) ClosePosition(_ context.Context, symbol string, side common.PositionSide) (engine.Result, error) {
	s.lastSymbol, s.lastSide = symbol, side
	return s.res, s.err
}

func (s *stubEngine) SetLeverage(_ context.Context, symbol string, _ int) (engine.Result, error) {
	s.lastSymbol = symbol
	return s.res, s.err
}

func (s *stubEngine) CancelOrder(_ context.Context, symbol, _, _ string) (engine.Result, error) {
	s.lastSymbol = symbol
	return s.res, s.err
}

func (s *stubEngine) CancelAll(_ context.Context, symbol string) (engine.Result, error) {
	s.lastSymbol = symbol
	return s.res, s.err
}

func (s *stubEngine) GetPrice(_ context.Context, symbol string) (engine.Result, error) {
	s.lastSymbol = symbol
	return s.res, s.err
}

func (s *stubEngine) GetPositions(_ context.Context, symbol string) (engine.Result, error) {
	s.lastSymbol = symbol
	return s.res, s.err
}

func (s *stubEngine) GetBalance(context.Context) (engine.Result, error) {
	return s.res, s.err
}

func (s *stubEngine) GetTrades(_ context.Context, symbol string, limit int) (engine.Result, error) {
	s.lastSymbol, s.lastLimit = symbol, limit
	return s.res, s.err
}

func (s *stubEngine) ListJournal(_ context.Context, symbol string, limit int) ([]db.JournalEntry, error) {
	s.lastSymbol, s.lastLimit = symbol, limit
	return s.journal, s.err
}

func (s *stubEngine) SetMarginType(_ context.Context, symbol, marginType string) (engine.Result, error) {
	s.lastSymbol, s.lastArg = symbol, marginType
	return s.res, s.err
}

func (s *stubEngine) GetOpenOrders(_ context.Context, symbol string) (engine.Result, error) {
	s.lastSymbol = symbol
	return s.res, s.err
}

func (s *stubEngine) GetOrderHistory(_ context.Context, symbol string, limit int) (engine.Result, error) {
	s.lastSymbol, s.lastLimit = symbol, limit
	return s.res, s.err
}

func (s *stubEngine) GetMarketSummary(_ context.Context, symbol string) (engine.Result, error) {
	s.lastSymbol = symbol
	return s.res, s.err
}

func (s *stubEngine) GetSymbolRules(_ context.Context, symbol string) (engine.Result, error) {
	s.lastSymbol = symbol
	return s.res, s.err
}

func (s *stubEngine) GetAccount(context.Context) (engine.Result, error) {
	return s.res, s.err
}

func (s *stubEngine) GetIncome(_ context.Context, symbol, incomeType string, limit int) (engine.Result, error) {
	s.lastSymbol, s.lastArg, s.lastLimit = symbol, incomeType, limit
	return s.res, s.err
}

func (s *stubEngine) RiskStats() risk.DailyStats {
	return risk.DailyStats{Date: "2026-10-16", TradesCount: 3, TradesRemaining: 47}
}

func (s *stubEngine) Metrics() monitor.MetricsSnapshot {
	return monitor.MetricsSnapshot{OrdersPlaced: 3}
}

func (s *stubEngine) SystemStatus(context.Context) engine.SystemStatus {
	return engine.SystemStatus{Venue: "aster", Version: "test"}
}

func newTestServer(t *testing.T, stub *stubEngine, opts Options) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewServer(stub, opts, nil)
}

func do(s *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &stubEngine{}, Options{})

	w := do(s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(t, &stubEngine{}, Options{})

	w := do(s, http.MethodGet, "/health", "", map[string]string{"X-Request-ID": "req-123"})
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}

func TestExecuteIntent(t *testing.T) {
	stub := &stubEngine{res: engine.Result{Success: true, Message: "Long position opened for BTCUSDT"}}
	s := newTestServer(t, stub, Options{})

	w := do(s, http.MethodPost, "/api/intents",
		`{"action":"open_long","symbol":"BTCUSDT","amount":"250.5","leverage":5,"confirm":true}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Long position opened for BTCUSDT", body["message"])

	assert.Equal(t, risk.ActionOpenLong, stub.lastIntent.Action)
	require.NotNil(t, stub.lastIntent.Amount)
	assert.Equal(t, "250.5", stub.lastIntent.Amount.String())
	assert.Equal(t, 5, stub.lastIntent.Leverage)
	assert.True(t, stub.lastConfirm)
}

func TestExecuteIntentNeedsConfirmation(t *testing.T) {
	stub := &stubEngine{res: engine.Result{Message: "Large trade detected ($600.00). Please confirm to proceed.", NeedsConfirmation: true}}
	s := newTestServer(t, stub, Options{})

	w := do(s, http.MethodPost, "/api/intents", `{"action":"open_long","symbol":"BTCUSDT","amount":600}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["needs_confirmation"])
	assert.Equal(t, false, body["success"])
	assert.False(t, stub.lastConfirm)
}

func TestInvalidPayload(t *testing.T) {
	s := newTestServer(t, &stubEngine{}, Options{})

	w := do(s, http.MethodPost, "/api/intents", `{"action":`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_PAYLOAD", decodeBody(t, w)["code"])
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", common.NewValidationError("amount", "Trade amount is required"), http.StatusBadRequest, "VALIDATION_FAILED"},
		{"risk", &common.RiskRejection{Reason: "Daily trade limit (50) reached"}, http.StatusForbidden, "RISK_REJECTED"},
		{"exchange", &common.ExchangeError{Method: "POST", Path: "/fapi/v1/order", Status: 400, Code: -2019, Message: "Margin is insufficient."}, http.StatusBadGateway, "EXCHANGE_ERROR"},
		{"transport", &common.TransportError{Method: "POST", Path: "/fapi/v1/order", Err: errors.New("connection reset")}, http.StatusGatewayTimeout, "EXCHANGE_UNAVAILABLE"},
		{"wrapped exchange", errors.Join(errors.New("place BUY BTCUSDT"), &common.ExchangeError{Status: 400}), http.StatusBadGateway, "EXCHANGE_ERROR"},
		{"other", errors.New("journal lookup: disk I/O error"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubEngine{res: engine.Result{Message: "Failed"}, err: tt.err}
			s := newTestServer(t, stub, Options{})

			w := do(s, http.MethodPost, "/api/intents", `{"action":"open_long","symbol":"BTCUSDT","amount":100}`, nil)
			assert.Equal(t, tt.status, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, tt.code, body["code"])
			assert.Equal(t, false, body["success"])
			assert.Equal(t, "Failed", body["message"])
			assert.Equal(t, tt.err.Error(), body["error"])
		})
	}
}

func TestCommandRoutesPassArguments(t *testing.T) {
	stub := &stubEngine{res: engine.Result{Success: true}}
	s := newTestServer(t, stub, Options{})

	w := do(s, http.MethodPost, "/api/positions/close", `{"symbol":"ETHUSDT","position_side":"long"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ETHUSDT", stub.lastSymbol)
	assert.Equal(t, common.PositionLong, stub.lastSide)

	w = do(s, http.MethodDelete, "/api/orders?symbol=SOLUSDT", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SOLUSDT", stub.lastSymbol)

	w = do(s, http.MethodGet, "/api/price/BNBUSDT", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "BNBUSDT", stub.lastSymbol)

	w = do(s, http.MethodGet, "/api/trades/BTCUSDT?limit=7", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "BTCUSDT", stub.lastSymbol)
	assert.Equal(t, 7, stub.lastLimit)

	w = do(s, http.MethodGet, "/api/trades", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "", stub.lastSymbol)
	assert.Equal(t, 20, stub.lastLimit)
}

func TestInvalidLimit(t *testing.T) {
	s := newTestServer(t, &stubEngine{}, Options{})

	for _, path := range []string{
		"/api/trades/BTCUSDT?limit=abc",
		"/api/trades/BTCUSDT?limit=-1",
		"/api/trades/BTCUSDT?limit=1001",
		"/api/orders/journal?limit=1000",
		"/api/orders/history/BTCUSDT?limit=5000",
		"/api/income?limit=1001",
	} {
		w := do(s, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Equal(t, "INVALID_PARAM", decodeBody(t, w)["code"], path)
	}

	stub := &stubEngine{}
	s = newTestServer(t, stub, Options{})
	w := do(s, http.MethodGet, "/api/orders/journal?limit=500", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 500, stub.lastLimit)
}

func TestExchangeQueryRoutes(t *testing.T) {
	stub := &stubEngine{res: engine.Result{Success: true, Message: "ok"}}
	s := newTestServer(t, stub, Options{})

	w := do(s, http.MethodPost, "/api/margin-type", `{"symbol":"BTCUSDT","margin_type":"ISOLATED"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "BTCUSDT", stub.lastSymbol)
	assert.Equal(t, "ISOLATED", stub.lastArg)

	w = do(s, http.MethodGet, "/api/orders/open?symbol=ETHUSDT", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ETHUSDT", stub.lastSymbol)

	w = do(s, http.MethodGet, "/api/orders/history/SOLUSDT?limit=10", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SOLUSDT", stub.lastSymbol)
	assert.Equal(t, 10, stub.lastLimit)

	w = do(s, http.MethodGet, "/api/market/BNBUSDT", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "BNBUSDT", stub.lastSymbol)

	w = do(s, http.MethodGet, "/api/symbols/XRPUSDT", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "XRPUSDT", stub.lastSymbol)

	w = do(s, http.MethodGet, "/api/account", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["message"])

	w = do(s, http.MethodGet, "/api/income?symbol=BTCUSDT&type=FUNDING_FEE", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "FUNDING_FEE", stub.lastArg)
	assert.Equal(t, 100, stub.lastLimit)
}

func TestReadEndpoints(t *testing.T) {
	stub := &stubEngine{journal: []db.JournalEntry{{ClientOrderID: "cid-1", Symbol: "BTCUSDT"}}}
	s := newTestServer(t, stub, Options{})

	w := do(s, http.MethodGet, "/api/orders/journal?symbol=BTCUSDT&limit=5", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, 5, stub.lastLimit)

	w = do(s, http.MethodGet, "/api/risk/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(47), decodeBody(t, w)["trades_remaining"])

	w = do(s, http.MethodGet, "/api/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decodeBody(t, w)["orders_placed"])

	w = do(s, http.MethodGet, "/api/system/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "aster", decodeBody(t, w)["venue"])
}

func TestAuthMiddleware(t *testing.T) {
	const secret = "test-secret"
	s := newTestServer(t, &stubEngine{}, Options{JWTSecret: secret})

	w := do(s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code, "health stays public")

	w = do(s, http.MethodGet, "/api/risk/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "MISSING_TOKEN", decodeBody(t, w)["code"])

	w = do(s, http.MethodGet, "/api/risk/stats", "", map[string]string{"Authorization": "Token abc"})
	assert.Equal(t, "INVALID_AUTH_HEADER", decodeBody(t, w)["code"])

	bad, err := IssueToken("ops", "other-secret", time.Hour)
	require.NoError(t, err)
	w = do(s, http.MethodGet, "/api/risk/stats", "", map[string]string{"Authorization": "Bearer " + bad})
	assert.Equal(t, "INVALID_TOKEN", decodeBody(t, w)["code"])

	expired, err := IssueToken("ops", secret, -time.Minute)
	require.NoError(t, err)
	w = do(s, http.MethodGet, "/api/risk/stats", "", map[string]string{"Authorization": "Bearer " + expired})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	good, err := IssueToken("ops", secret, time.Hour)
	require.NoError(t, err)
	w = do(s, http.MethodGet, "/api/risk/stats", "", map[string]string{"Authorization": "Bearer " + good})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	_, err := IssueToken("ops", "", time.Hour)
	assert.Error(t, err)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, &stubEngine{}, Options{RateLimit: 0.001, RateBurst: 2})

	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/health", "", nil).Code)
	w := do(s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", decodeBody(t, w)["code"])
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, &stubEngine{}, Options{})

	w := do(s, http.MethodOptions, "/api/intents", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestTimeoutSetsDeadline(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TimeoutMiddleware(50 * time.Millisecond))
	var hasDeadline bool
	r.GET("/x", func(c *gin.Context) {
		_, hasDeadline = c.Request.Context().Deadline()
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.True(t, hasDeadline)
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RecoveryMiddleware(zap.NewNop()))
	r.GET("/panic", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
