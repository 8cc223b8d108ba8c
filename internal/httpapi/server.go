package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"marketwatch/internal/engine"
	"marketwatch/internal/version"
)

// StateSource exposes the engine snapshot.
type StateSource interface {
	Snapshot() engine.State
}

// Readiness reports when the price cycle last evaluated prices.
type Readiness interface {
	LastSuccess() time.Time
}

// Options configure the status server.
type Options struct {
	Addr        string
	CORSOrigins []string
	// ReadyMaxAge is how stale the last successful cycle may be before /readyz fails.
	ReadyMaxAge time.Duration
	Registry    *prometheus.Registry
}

// Server is the read-only status API.
type Server struct {
	router *gin.Engine
	http   *http.Server
	state  StateSource
	ready  Readiness
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New builds the router. state and ready may be nil, in which case /state is 404 and /readyz
// only checks liveness.
func New(opts Options, state StateSource, ready Readiness, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router: gin.New(),
		state:  state,
		ready:  ready,
		opts:   opts,
		logger: logger.With().Str("component", "httpapi").Logger(),
		now:    time.Now,
	}

	s.router.Use(gin.Recovery(), s.accessLog())
	if len(opts.CORSOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = opts.CORSOrigins
		corsConfig.AllowMethods = []string{http.MethodGet, http.MethodOptions}
		s.router.Use(cors.New(corsConfig))
	}

	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/readyz", s.handleReady)
	s.router.GET("/state", s.handleState)
	if opts.Registry != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))
	}

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("status api listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("serve status api: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status api: %w", err)
	}
	return nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(started)).
			Msg("request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "alive",
		"version": version.Version,
		"time":    s.now().UTC(),
	})
}

func (s *Server) handleReady(c *gin.Context) {
	if s.ready == nil || s.opts.ReadyMaxAge <= 0 {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	last := s.ready.LastSuccess()
	if last.IsZero() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	age := s.now().Sub(last)
	body := gin.H{
		"last_success": last.UTC(),
		"age_seconds":  int64(age.Seconds()),
	}
	if age > s.opts.ReadyMaxAge {
		body["status"] = "stale"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	body["status"] = "ready"
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleState(c *gin.Context) {
	if s.state == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "engine not attached"})
		return
	}
	c.JSON(http.StatusOK, s.state.Snapshot())
}
