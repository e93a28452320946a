// Package admin exposes the lifecycle controller over a small JSON API.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/toolbox/internal/auth"
	"github.com/danmuck/toolbox/internal/fetch"
	"github.com/danmuck/toolbox/internal/logging"
	"github.com/danmuck/toolbox/internal/observability"
	"github.com/danmuck/toolbox/internal/settings"
	"github.com/danmuck/toolbox/internal/toolbox"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const version = "0.1.0"

// Controller is the slice of the lifecycle controller the API drives.
type Controller interface {
	StatusAll() []toolbox.ToolStatus
	Do(ctx context.Context, id settings.ToolID, op string) (*toolbox.Status, error)
}

type Options struct {
	Addr  string
	Token string
	// Validator overrides the Token check when set.
	Validator   auth.Validator
	CorsOrigins []string
	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string
}

type Server struct {
	opts     Options
	ctl      Controller
	auth     auth.Validator
	router   *gin.Engine
	appeared time.Time
	log      zerolog.Logger
}

func New(ctl Controller, opts Options) *Server {
	observability.RegisterMetrics()
	log := logging.For("admin")
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	validator := opts.Validator
	if validator == nil {
		validator = auth.StaticToken{Token: opts.Token}
	}
	s := &Server{
		opts:     opts,
		ctl:      ctl,
		auth:     validator,
		router:   r,
		appeared: time.Now(),
		log:      log,
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
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		tools := s.ctl.StatusAll()
		running := 0
		for _, t := range tools {
			if t.Status.Running {
				running++
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"tools":   len(tools),
			"running": running,
			"uptime":  time.Since(s.appeared).String(),
		})
	})

	s.router.GET("/tools", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"tools":      s.ctl.StatusAll(),
			"operations": toolbox.Operations(),
		})
	})

	s.router.GET("/tools/:tool", func(c *gin.Context) {
		id, err := settings.ParseToolID(c.Param("tool"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		for _, t := range s.ctl.StatusAll() {
			if t.ID == id {
				c.JSON(http.StatusOK, t)
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": toolbox.ErrUnknownTool.Error()})
	})

	actions := s.router.Group("/tools", s.requireToken)
	actions.POST("/:tool/actions/:action", func(c *gin.Context) {
		toolName := c.Param("tool")
		actionName := c.Param("action")

		// Lifecycle work outlives a dropped client connection.
		ctx := context.WithoutCancel(c.Request.Context())
		status, err := s.ctl.Do(ctx, settings.ToolID(toolName), actionName)
		if err != nil {
			s.log.Error().
				Str("tool", toolName).
				Str("action", actionName).
				Err(err).
				Msg("tool action failed")
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		s.log.Info().Str("tool", toolName).Str("action", actionName).Msg("tool action executed")

		body := gin.H{"status": "ok", "tool": toolName, "action": actionName}
		if status != nil {
			body["result"] = status
		}
		c.JSON(http.StatusOK, body)
	})
}

func (s *Server) requireToken(c *gin.Context) {
	if err := auth.CheckHeader(s.auth, c.GetHeader("Authorization")); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.Next()
}

func statusFor(err error) int {
	var fetchErr *fetch.FetchError
	switch {
	case errors.Is(err, toolbox.ErrUnknownTool), errors.Is(err, toolbox.ErrUnknownOperation):
		return http.StatusNotFound
	case errors.Is(err, toolbox.ErrMissingConfiguration), errors.Is(err, fetch.ErrUnsupportedPlatform):
		return http.StatusUnprocessableEntity
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.opts.CertFile != "" && s.opts.KeyFile != "" {
			s.log.Info().Str("addr", s.opts.Addr).Msg("admin api listening (tls)")
			err = srv.ListenAndServeTLS(s.opts.CertFile, s.opts.KeyFile)
		} else {
			s.log.Info().Str("addr", s.opts.Addr).Msg("admin api listening")
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
