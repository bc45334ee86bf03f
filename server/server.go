// Package server exposes the terminal over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitwit/payterm"
	"github.com/vitwit/payterm/config"
	"github.com/vitwit/payterm/logger"
	"github.com/vitwit/payterm/metrics"
)

const defaultShutdownTimeout = 10 * time.Second

type Options struct {
	Logger logger.Logger

	// Registry receives the HTTP metrics and is served on /metrics. A new
	// registry is created when nil.
	Registry *prometheus.Registry
}

type Server struct {
	term   *payterm.Terminal
	cfg    config.HTTPConfig
	logger logger.Logger
	engine *gin.Engine
	http   *http.Server
}

func New(term *payterm.Terminal, cfg config.HTTPConfig, opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = term.Logger()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	s := &Server{
		term:   term,
		cfg:    cfg,
		logger: logger.With(opts.Logger, map[string]any{"component": "http"}),
	}

	r := gin.New()
	if err := r.SetTrustedProxies(nil); err != nil {
		return nil, err
	}
	r.Use(RequestLogger(s.logger), gin.Recovery(), CORS(cfg.AllowOrigins))
	r.Use(metrics.NewHTTPMetrics(opts.Registry).Middleware())

	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	if cfg.RateLimit != "" {
		l, err := NewRateLimiter(cfg.RateLimit)
		if err != nil {
			return nil, err
		}
		v1.Use(RateLimit(l))
	}
	s.routes(v1)

	s.engine = r
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes(v1 *gin.RouterGroup) {
	v1.GET("/networks", s.listNetworks)

	n := v1.Group("/networks/:network")
	n.GET("/active", s.getActive)
	n.POST("/active", s.createTransaction)
	n.POST("/active/pay", s.payTransaction)
	n.POST("/active/cancel", s.cancelTransaction)
	n.POST("/active/clear", s.clearTransaction)
	n.POST("/refresh", s.refresh)
	n.GET("/recent", s.getRecent)
	n.GET("/owner", s.getOwner)
	n.GET("/balance", s.getBalance)
	n.GET("/contract", s.getContract)
	n.POST("/withdraw", s.withdraw)
	n.GET("/qr", s.getQR)
	n.GET("/qr.png", s.getQRImage)
	n.GET("/transactions/:id/verify", s.verify)

	v1.GET("/merchant", s.getMerchant)
	v1.PUT("/merchant", s.putMerchant)
	v1.POST("/itemized/totals", s.itemizedTotals)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe blocks until the server stops. A shutdown is not an error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", map[string]any{"addr": s.cfg.Addr})
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests for at most the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down", nil)
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	Success(c, gin.H{"status": "ok", "networks": s.term.Networks()})
}
