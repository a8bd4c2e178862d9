// Package httpapi exposes the query engine over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kruthik-b-s/portfolio/internal/logger"
	"github.com/kruthik-b-s/portfolio/pkg/history"
	"github.com/kruthik-b-s/portfolio/pkg/sql"
)

// Config holds what the HTTP server needs.
type Config struct {
	Engine  *sql.Engine
	History *history.History
	Logger  *logger.Logger

	// RatePerMinute and RateBurst bound requests per client IP. A zero
	// RatePerMinute disables the limit.
	RatePerMinute int
	RateBurst     int

	// QueryTimeout bounds each query; zero means no bound.
	QueryTimeout time.Duration
}

// Server serves the query API.
type Server struct {
	engine       *sql.Engine
	history      *history.History
	logger       *logger.Logger
	queryTimeout time.Duration

	router *gin.Engine
	http   *http.Server
}

// NewServer builds the router and its routes.
func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	hist := cfg.History
	if hist == nil {
		hist = history.New(history.DefaultCapacity)
	}

	s := &Server{
		engine:       cfg.Engine,
		history:      hist,
		logger:       log.Named("http"),
		queryTimeout: cfg.QueryTimeout,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestMetrics(s.logger))

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("")
	if cfg.RatePerMinute > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		api.Use(RateLimitMiddleware(cfg.RatePerMinute, burst))
	}
	api.POST("/query", s.handleQuery)
	api.GET("/query.csv", s.handleQueryCSV)
	api.GET("/tables", s.handleTables)
	api.GET("/history", s.handleHistory)

	s.router = router
	s.http = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Infow("server started", "address", l.Addr().String())

	if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and serves until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(l)
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.logger.Infow("server stopped")
	return s.http.Shutdown(ctx)
}
