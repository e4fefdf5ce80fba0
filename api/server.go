// Package api wires the REST routes, middleware, and websocket endpoint into
// one HTTP server.
package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cosmossdk.io/log"

	"github.com/openpredict/predex/api/handlers"
	"github.com/openpredict/predex/api/middleware"
	"github.com/openpredict/predex/api/websocket"
	"github.com/openpredict/predex/metrics"
)

// Config contains server configuration.
type Config struct {
	Host             string
	Port             int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	DisableRateLimit bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Host:         "0.0.0.0",
		Port:         3000,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// ExchangeService bundles the order pipeline with live book reads.
type ExchangeService interface {
	handlers.OrderService
	handlers.BookSource
}

// StoreReader is the persisted-state surface the read endpoints serve from.
type StoreReader interface {
	handlers.OrderReader
	handlers.TradeSource
	handlers.DeadLetterSource
}

// Deps are the wired components the routes serve.
type Deps struct {
	Markets  handlers.MarketService
	Exchange ExchangeService
	Agents   handlers.AgentService
	Store    StoreReader
	Hub      *websocket.Hub
}

// Server exposes the exchange over REST and websocket.
type Server struct {
	cfg        Config
	logger     log.Logger
	httpServer *http.Server
	hub        *websocket.Hub
	limiter    *middleware.Limiter

	markets *handlers.MarketHandler
	orders  *handlers.OrderHandler
	agents  *handlers.AgentHandler
	ops     *handlers.OpsHandler
}

// NewServer creates the API server around the wired components.
func NewServer(cfg Config, deps Deps, logger log.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger.With("module", "api"),
		hub:     deps.Hub,
		markets: handlers.NewMarketHandler(deps.Markets, deps.Exchange, deps.Store),
		orders:  handlers.NewOrderHandler(deps.Exchange, deps.Store),
		agents:  handlers.NewAgentHandler(deps.Agents),
		ops:     handlers.NewOpsHandler(deps.Store),
	}
	if !cfg.DisableRateLimit {
		s.limiter = middleware.NewLimiter(middleware.DefaultConfig())
	}
	return s
}

// Handler builds the route table with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/v1/markets", s.markets.HandleMarkets)
	mux.HandleFunc("/v1/markets/", s.markets.HandleMarket)
	mux.HandleFunc("/v1/stats", s.markets.HandleStats)

	mux.HandleFunc("/v1/orders", s.orders.HandleOrders)
	mux.HandleFunc("/v1/orders/", s.orders.HandleOrder)

	mux.HandleFunc("/v1/agents/", s.agents.HandleAgents)

	mux.HandleFunc("/v1/deadletters", s.ops.HandleDeadLetters)

	mux.HandleFunc("/ws", s.hub.ServeWS)

	var handler http.Handler = mux
	if s.limiter != nil {
		handler = middleware.RateLimit(s.limiter)(handler)
	}
	return corsMiddleware(s.metricsMiddleware(handler))
}

// Start serves until Stop is called. A clean shutdown returns nil.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("api server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains in-flight requests and releases the limiter.
func (s *Server) Stop(ctx context.Context) error {
	if s.limiter != nil {
		defer s.limiter.Stop()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

// metricsMiddleware records request counts and latency per route.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.GetCollector().RecordAPIRequest(
			r.Method, routeLabel(r.URL.Path), strconv.Itoa(rec.status), timer.ElapsedMs())
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for the request metric. Hijack
// passes through so the websocket upgrade keeps working behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// routeLabel trims identifiers out of the path so metric labels stay bounded.
func routeLabel(path string) string {
	if !strings.HasPrefix(path, "/v1/") {
		return path
	}
	rest := path[len("/v1/"):]
	i := strings.IndexByte(rest, '/')
	if i < 0 {
		return path
	}
	resource, tail := rest[:i], rest[i+1:]
	if j := strings.IndexByte(tail, '/'); j >= 0 {
		return "/v1/" + resource + "/:id/" + tail[j+1:]
	}
	return "/v1/" + resource + "/:id"
}
