// Package admin exposes a worker proxy over HTTP: status, lifecycle
// controls, the event journal and Prometheus metrics.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/webworker/internal/auth"
	"github.com/danmuck/webworker/internal/host"
	"github.com/danmuck/webworker/internal/journal"
	"github.com/danmuck/webworker/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Worker is the proxy surface the admin routes drive.
type Worker interface {
	Name() string
	Status() host.Status
	Load(ctx context.Context)
	Start(args ...any)
	Terminate(args ...any)
	TerminateNow(returnValue any)
	Trigger(name string, data any, args ...any)
}

// EventLister reads recorded worker events.
type EventLister interface {
	List(ctx context.Context, worker string, limit int) ([]journal.Entry, error)
}

type Config struct {
	Addr        string
	CorsOrigins []string
	// Token, when set, is required on every POST route.
	Token  string
	Logger *zerolog.Logger
}

type Server struct {
	addr     string
	token    string
	worker   Worker
	events   EventLister
	router   *gin.Engine
	appeared time.Time
	logger   zerolog.Logger
}

type argsRequest struct {
	Args []any `json:"args"`
}

type terminateNowRequest struct {
	ReturnValue any `json:"returnValue"`
}

type triggerRequest struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// New builds the router. events may be nil when no journal is configured.
func New(cfg Config, worker Worker, events EventLister) *Server {
	observability.RegisterMetrics()
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	logger = logger.With().Str("component", "admin").Logger()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization", auth.TokenHeader},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		addr:     strings.TrimSpace(cfg.Addr),
		token:    strings.TrimSpace(cfg.Token),
		worker:   worker,
		events:   events,
		router:   r,
		appeared: time.Now(),
		logger:   logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.appeared).String(),
			"worker": s.worker.Name(),
		})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/worker", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.worker.Status())
	})

	s.router.GET("/worker/events", func(c *gin.Context) {
		if s.events == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
			return
		}
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			limit = n
		}
		entries, err := s.events.List(c.Request.Context(), s.worker.Name(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if entries == nil {
			entries = []journal.Entry{}
		}
		c.JSON(http.StatusOK, gin.H{"events": entries})
	})

	control := s.router.Group("/worker")
	if s.token != "" {
		control.Use(auth.Require(auth.StaticToken{Token: s.token}))
	}

	control.POST("/load", func(c *gin.Context) {
		// the load outlives the request
		s.worker.Load(context.Background())
		s.accepted(c)
	})

	control.POST("/start", func(c *gin.Context) {
		var req argsRequest
		if !bindOptional(c, &req) {
			return
		}
		s.worker.Start(req.Args...)
		s.accepted(c)
	})

	control.POST("/terminate", func(c *gin.Context) {
		var req argsRequest
		if !bindOptional(c, &req) {
			return
		}
		s.worker.Terminate(req.Args...)
		s.accepted(c)
	})

	control.POST("/terminate-now", func(c *gin.Context) {
		var req terminateNowRequest
		if !bindOptional(c, &req) {
			return
		}
		s.worker.TerminateNow(req.ReturnValue)
		s.accepted(c)
	})

	control.POST("/trigger", func(c *gin.Context) {
		var req triggerRequest
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Type) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "event type required"})
			return
		}
		s.worker.Trigger(strings.TrimSpace(req.Type), req.Data)
		s.accepted(c)
	})
}

func (s *Server) accepted(c *gin.Context) {
	c.JSON(http.StatusAccepted, gin.H{"status": "ok", "worker": s.worker.Status()})
}

// bindOptional decodes a JSON body when one was sent.
func bindOptional(c *gin.Context, out any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// Serve listens on the configured address until ctx ends.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("admin.Server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
