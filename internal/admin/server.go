package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/stridelink/internal/auth"
	"github.com/danmuck/stridelink/internal/companion"
	"github.com/danmuck/stridelink/internal/logging"
	"github.com/danmuck/stridelink/internal/observability"
	"github.com/danmuck/stridelink/internal/wearable"
	"github.com/danmuck/stridelink/internal/workout"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	version        = "0.1.0"
	commandTimeout = 15 * time.Second
)

// Server is a device's local HTTP surface: health, metrics, the current
// session, and the start/stop/toggle commands.
type Server struct {
	ID      string
	Addr    string
	Started time.Time

	device    Device
	sessions  SessionLister
	validator auth.Validator
	router    *gin.Engine
	logger    zerolog.Logger
}

type startRequest struct {
	Activity string `json:"activity"`
	Location string `json:"location"`
}

// New builds the router. sessions may be nil, in which case /sessions is not
// served.
func New(id, addr string, corsOrigins []string, device Device, sessions SessionLister) *Server {
	observability.RegisterMetrics()
	logger := logging.Component("admin")

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		ID:       id,
		Addr:     addr,
		Started:  time.Now(),
		device:   device,
		sessions: sessions,
		router:   r,
		logger:   logger,
	}
	s.RegisterRoutes()
	return s
}

// RequireToken guards the /workout commands with v. Reads stay open.
func (s *Server) RequireToken(v auth.Validator) {
	s.validator = v
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Server) RegisterRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"device":  s.ID,
			"kind":    s.device.Kind(),
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.device.Session())
	})

	if s.sessions != nil {
		s.router.GET("/sessions", func(c *gin.Context) {
			limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
			list, err := s.sessions.RecentSessions(c.Request.Context(), limit)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"sessions": list})
		})
	}

	commands := s.router.Group("/workout", s.authorize)

	commands.POST("/start", func(c *gin.Context) {
		var req startRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		activity, err := workout.ParseActivityType(req.Activity)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		location := workout.LocationOutdoor
		if req.Location != "" {
			if location, err = workout.ParseLocationContext(req.Location); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		s.command(c, "start", func(ctx context.Context) (any, error) {
			return s.device.Start(ctx, activity, location)
		})
	})

	commands.POST("/stop", func(c *gin.Context) {
		s.command(c, "stop", s.device.Stop)
	})

	commands.POST("/toggle", func(c *gin.Context) {
		s.command(c, "toggle", s.device.Toggle)
	})
}

func (s *Server) authorize(c *gin.Context) {
	if s.validator == nil {
		c.Next()
		return
	}
	if err := auth.Check(s.validator, c.GetHeader("Authorization")); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.Next()
}

func (s *Server) command(c *gin.Context, name string, fn func(context.Context) (any, error)) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	out, err := fn(ctx)
	if err != nil {
		status := statusFor(err)
		s.logger.Warn().Err(err).Str("command", name).Int("status", status).Msg("admin.Server.command failed")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "result": out})
}

// Serve listens on Addr until ctx ends.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.Addr).Msg("admin.Server.Serve listening")
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
		return srv.Shutdown(shutdownCtx)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, workout.ErrInvalidCommand),
		errors.Is(err, workout.ErrUnknownActivity),
		errors.Is(err, workout.ErrUnknownLocation):
		return http.StatusBadRequest
	case errors.Is(err, workout.ErrLifecycleOrder),
		errors.Is(err, companion.ErrNoSession):
		return http.StatusConflict
	case errors.Is(err, workout.ErrEngineUnavailable),
		errors.Is(err, wearable.ErrInboxFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
