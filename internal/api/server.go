package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/waterbudget/internal/dashboard"
	"github.com/lox/waterbudget/internal/httputil"
	"github.com/lox/waterbudget/internal/planning"
)

type Server struct {
	service         *planning.Service
	composer        *dashboard.Composer
	secret          []byte
	clock           clockwork.Clock
	logger          *slog.Logger
	addr            string
	shutdownTimeout time.Duration
}

// Options carries what the server needs beyond its dependencies.
type Options struct {
	Addr            string
	JWTSecret       string
	ShutdownTimeout time.Duration
	Clock           clockwork.Clock
}

func NewServer(service *planning.Service, composer *dashboard.Composer, opts Options, logger *slog.Logger) *Server {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	return &Server{
		service:         service,
		composer:        composer,
		secret:          []byte(opts.JWTSecret),
		clock:           opts.Clock,
		logger:          logger,
		addr:            opts.Addr,
		shutdownTimeout: opts.ShutdownTimeout,
	}
}

func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), s.requestLogger())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	protected := r.Group("/api")
	protected.Use(s.requireAuth())
	{
		protected.GET("/systems", s.handleSystems)
		protected.GET("/crops", s.handleCrops)

		protected.GET("/demand/:system/:year", s.handleDemand)
		protected.PUT("/demand/:system/:year", s.handleReplaceDemand)
		protected.GET("/demand/:system/:year/grid", s.handleGrid)

		protected.GET("/dashboard", s.handleDashboard)
		protected.GET("/telemetry/:system/:year", s.handleTelemetry)
		protected.GET("/facilities", s.handleFacilities)
		protected.POST("/curves/:kind/:device/volume", s.handleCurveVolume)

		protected.GET("/yearly/summary", s.handleYearSummary)
		protected.GET("/yearly/compare", s.handleCompare)
	}
	return r
}

func (s *Server) Run(ctx context.Context) error {
	server := httputil.NewServer(s.addr, s.Handler())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http shutdown", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", s.addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.service.Ping(ctx); err != nil {
		s.logger.Error("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
