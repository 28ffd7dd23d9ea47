package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trade-gateway/internal/engine"
	"trade-gateway/internal/risk"
	"trade-gateway/pkg/db"
	"trade-gateway/pkg/exchanges/common"
)

type intentRequest struct {
	risk.TradeIntent
	Confirm bool `json:"confirm"`
}

type closeRequest struct {
	Symbol       string `json:"symbol"`
	PositionSide string `json:"position_side"`
}

type leverageRequest struct {
	Symbol   string `json:"symbol"`
	Leverage int    `json:"leverage"`
}

type marginTypeRequest struct {
	Symbol     string `json:"symbol"`
	MarginType string `json:"margin_type"`
}

type cancelRequest struct {
	Symbol        string `json:"symbol"`
	OrderID       string `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
}

func (s *Server) executeIntent(c *gin.Context) {
	var req intentRequest
	if !bindJSON(c, &req) {
		return
	}
	s.respond(c, "intent", func(ctx context.Context) (engine.Result, error) {
		return s.Engine.Execute(ctx, req.TradeIntent, req.Confirm)
	})
}

func (s *Server) closePosition(c *gin.Context) {
	var req closeRequest
	if !bindJSON(c, &req) {
		return
	}
	s.respond(c, "close", func(ctx context.Context) (engine.Result, error) {
		return s.Engine.ClosePosition(ctx, req.Symbol, common.PositionSide(strings.ToUpper(req.PositionSide)))
	})
}

func (s *Server) setLeverage(c *gin.Context) {
	var req leverageRequest
	if !bindJSON(c, &req) {
		return
	}
	s.respond(c, "leverage", func(ctx context.Context) (engine.Result, error) {
		return s.Engine.SetLeverage(ctx, req.Symbol, req.Leverage)
	})
}

func (s *Server) cancelOrder(c *gin.Context) {
	var req cancelRequest
	if !bindJSON(c, &req) {
		return
	}
	s.respond(c, "cancel", func(ctx context.Context) (engine.Result, error) {
		return s.Engine.CancelOrder(ctx, req.Symbol, req.OrderID, req.ClientOrderID)
	})
}

func (s *Server) cancelAllOrders(c *gin.Context) {
	symbol := c.Query("symbol")
	s.respond(c, "cancel_all", func(ctx context.Context) (engine.Result, error) {
		return s.Engine.CancelAll(ctx, symbol)
	})
}

func (s *Server) setMarginType(c *gin.Context) {
	var req marginTypeRequest
	if !bindJSON(c, &req) {
		return
	}
	s.respond(c, "margin_type", func(ctx context.Context) (engine.Result, error) {
		return s.Engine.SetMarginType(ctx, req.Symbol, req.MarginType)
	})
}

func (s *Server) getPositions(c *gin.Context) {
	symbol := c.Query("symbol")
	s.respond(c, "positions", func(ctx context.Context) (engine.Result, error) {
		return s.Engine.GetPositions(ctx, symbol)
	})
}

func (s *Server) getBalance(c *gin.Context) {
	s.respond(c, "balance", s.Engine.GetBalance)
}

func (s *Server) getPrice(c *gin.Context) {
	symbol := c.Param("symbol")
	s.respond(c, "price", func(ctx context.Context) (engine.Result, error) {
		return s.Engine.GetPrice(ctx, symbol)
	})
}

func (s *Server) getTrades(c *gin.Context) {
	symbol := c.Param("symbol")
	limit, ok := queryInt(c, "limit", 20, maxExchangeLimit)
	if !ok {
		return
	}
	s.respond(c, "trades", func(ctx context.Context) (engine.Result, error) {
		return s.Engine.GetTrades(ctx, symbol, limit)
	})
}

func (s *Server) getRiskStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.RiskStats())
}

func (s *Server) getJournal(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 50, db.MaxListLimit)
	if !ok {
		return
	}
	entries, err := s.Engine.ListJournal(c.Request.Context(), c.Query("symbol"), limit)
	if err != nil {
		s.log.Error("journal query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": "failed to read order journal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": entries, "count": len(entries)})
}

func (s *Server) getOpenOrders(c *gin.Context) {
	symbol := c.Query("symbol")
	s.respond(c, "open_orders", func(ctx context.Context) (engine.Result, error) {
		return s.Engine.GetOpenOrders(ctx, symbol)
	})
}

func (s *Server) getOrderHistory(c *gin.Context) {
	symbol := c.Param("symbol")
	limit, ok := queryInt(c, "limit", 50, maxExchangeLimit)
	if !ok {
		return
	}
	s.respond(c, "order_history", func(ctx context.Context) (engine.Result, error) {
		return s.Engine.GetOrderHistory(ctx, symbol, limit)
	})
}

func (s *Server) getMarketSummary(c *gin.Context) {
	symbol := c.Param("symbol")
	s.respond(c, "market", func(ctx context.Context) (engine.Result, error) {
		return s.Engine.GetMarketSummary(ctx, symbol)
	})
}

func (s *Server) getSymbolRules(c *gin.Context) {
	symbol := c.Param("symbol")
	s.respond(c, "symbol_rules", func(ctx context.Context) (engine.Result, error) {
		return s.Engine.GetSymbolRules(ctx, symbol)
	})
}

func (s *Server) getAccount(c *gin.Context) {
	s.respond(c, "account", s.Engine.GetAccount)
}

func (s *Server) getIncome(c *gin.Context) {
	symbol, incomeType := c.Query("symbol"), c.Query("type")
	limit, ok := queryInt(c, "limit", 100, maxExchangeLimit)
	if !ok {
		return
	}
	s.respond(c, "income", func(ctx context.Context) (engine.Result, error) {
		return s.Engine.GetIncome(ctx, symbol, incomeType, limit)
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Metrics())
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.SystemStatus(c.Request.Context()))
}

// respond runs op with the request context and writes its result. Failures
// keep the result body and add error and code fields.
func (s *Server) respond(c *gin.Context, op string, fn func(ctx context.Context) (engine.Result, error)) {
	res, err := fn(c.Request.Context())
	if err == nil {
		c.JSON(http.StatusOK, res)
		return
	}

	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Warn("command failed",
			zap.String("op", op),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Int("status", status),
			zap.Error(err))
	}
	msg := res.Message
	if msg == "" {
		msg = err.Error()
	}
	c.JSON(status, gin.H{
		"success":            false,
		"message":            msg,
		"needs_confirmation": false,
		"intent":             res.Intent,
		"code":               code,
		"error":              err.Error(),
	})
}

// statusFor maps the engine's typed errors onto HTTP statuses.
func statusFor(err error) (int, string) {
	var (
		vErr  *common.ValidationError
		rErr  *common.RiskRejection
		exErr *common.ExchangeError
		tErr  *common.TransportError
	)
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.As(err, &rErr):
		return http.StatusForbidden, "RISK_REJECTED"
	case errors.As(err, &exErr):
		return http.StatusBadGateway, "EXCHANGE_ERROR"
	case errors.As(err, &tErr), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "EXCHANGE_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload: " + err.Error(),
		})
		return false
	}
	return true
}

// maxExchangeLimit is the largest page the exchange's history endpoints serve.
const maxExchangeLimit = 1000

// queryInt reads an optional integer query parameter in [0, upper].
func queryInt(c *gin.Context, key string, def, upper int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 || v > upper {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PARAM",
			"error": fmt.Sprintf("%s must be an integer between 0 and %d", key, upper),
		})
		return 0, false
	}
	return v, true
}
