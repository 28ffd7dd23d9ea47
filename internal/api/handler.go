package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trade-gateway/internal/engine"
)

// Options configures the HTTP surface.
type Options struct {
	// JWTSecret enables bearer auth on /api when non-empty.
	JWTSecret string

	RequestTimeout time.Duration
	RateLimit      float64 // requests per second per client IP
	RateBurst      int
}

// Server wires HTTP endpoints around the trading engine.
type Server struct {
	Router *gin.Engine
	Engine engine.Service
	log    *zap.Logger
}

// NewServer builds the router and its middleware stack.
func NewServer(svc engine.Service, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 50
	}
	log = log.Named("api")

	r := gin.New()

	limiter := newIPLimiter(opts.RateLimit, opts.RateBurst)

	// Middleware stack (order matters!)
	r.Use(RecoveryMiddleware(log))                // Panic recovery (first)
	r.Use(RequestIDMiddleware())                  // Request ID tracking
	r.Use(RequestLogger(log))                     // Request logging (after ID is set)
	r.Use(RateLimitMiddleware(limiter, log))      // Rate limiting
	r.Use(TimeoutMiddleware(opts.RequestTimeout)) // Request deadline
	r.Use(CORSMiddleware())                       // CORS (last before routes)

	s := &Server{Router: r, Engine: svc, log: log}
	s.routes(opts.JWTSecret)
	return s
}

func (s *Server) routes(jwtSecret string) {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api")
	if jwtSecret != "" {
		api.Use(AuthMiddleware(jwtSecret))
	}
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		// Commands
		api.POST("/intents", s.executeIntent)
		api.POST("/positions/close", s.closePosition)
		api.POST("/leverage", s.setLeverage)
		api.POST("/margin-type", s.setMarginType)
		api.POST("/orders/cancel", s.cancelOrder)
		api.DELETE("/orders", s.cancelAllOrders)

		// Queries
		api.GET("/positions", s.getPositions)
		api.GET("/balance", s.getBalance)
		api.GET("/price/:symbol", s.getPrice)
		api.GET("/trades", s.getTrades)
		api.GET("/trades/:symbol", s.getTrades)
		api.GET("/risk/stats", s.getRiskStats)
		api.GET("/orders/journal", s.getJournal)
		api.GET("/orders/open", s.getOpenOrders)
		api.GET("/orders/history/:symbol", s.getOrderHistory)
		api.GET("/market/:symbol", s.getMarketSummary)
		api.GET("/symbols/:symbol", s.getSymbolRules)
		api.GET("/account", s.getAccount)
		api.GET("/income", s.getIncome)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HTTPServer returns an http.Server serving the router on addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
