// Package api serves the operator control surface over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/moznion/go-optional"
	"github.com/rs/zerolog"

	"ScalpSentinel/internal/config"
	"ScalpSentinel/internal/model"
	"ScalpSentinel/internal/scheduler"
)

// Controller is the operator surface of the scheduler.
type Controller interface {
	Status(ctx context.Context) (scheduler.Status, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	ForceClose(ctx context.Context) (optional.Option[model.TradeRecord], error)
	ResetBreaker(ctx context.Context) error
	RunScanNow()
}

// Server is the HTTP control API.
type Server struct {
	ctrl   Controller
	token  string
	engine *gin.Engine
	server *http.Server
	log    zerolog.Logger
}

// New builds the router. metrics may be nil to omit /metrics. The control
// routes require cfg.Token as a bearer token.
func New(cfg config.APIConfig, ctrl Controller, metrics http.Handler, log zerolog.Logger) *Server {
	s := &Server{
		ctrl:  ctrl,
		token: cfg.Token,
		log:   log.With().Str("component", "api").Logger(),
	}
	if s.token == "" {
		s.log.Warn().Msg("api token not set, control routes disabled")
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/status", s.status)

	control := r.Group("/", s.requireToken())
	control.POST("/pause", s.pause)
	control.POST("/resume", s.resume)
	control.POST("/force-close", s.forceClose)
	control.POST("/reset-breaker", s.resetBreaker)
	control.POST("/scan", s.scan)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}
	s.engine = r

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	go func() {
		s.log.Info().Str("addr", s.server.Addr).Msg("api listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("api server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("api shutdown")
		}
	}()
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().Str("method", c.Request.Method).Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).Dur("took", time.Since(start)).Msg("request")
	}
}

// requireToken checks the Authorization header against the configured token.
func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.token == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "control api disabled: no token configured"})
			return
		}
		parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.token)) != 1 {
			s.log.Warn().Str("path", c.FullPath()).Str("remote", c.ClientIP()).Msg("rejected control request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	s.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (s *Server) status(c *gin.Context) {
	st, err := s.ctrl.Status(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) pause(c *gin.Context) {
	if err := s.ctrl.Pause(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) resume(c *gin.Context) {
	if err := s.ctrl.Resume(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (s *Server) forceClose(c *gin.Context) {
	rec, err := s.ctrl.ForceClose(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	closed, err := rec.Take()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "no open position"})
		return
	}
	c.JSON(http.StatusOK, closed)
}

func (s *Server) resetBreaker(c *gin.Context) {
	if err := s.ctrl.ResetBreaker(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"circuit_breaker": "closed"})
}

func (s *Server) scan(c *gin.Context) {
	go s.ctrl.RunScanNow()
	c.JSON(http.StatusAccepted, gin.H{"scan": "started"})
}
