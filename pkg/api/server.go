package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stakeops/warden/pkg/agent"
	"github.com/stakeops/warden/pkg/log"
	"github.com/stakeops/warden/pkg/metrics"
)

// Config holds the agent API server configuration
type Config struct {
	Host string
	Port int

	// APIKey is the bearer token every endpoint except /healthz
	// requires. Empty falls back to the AGENT_API_KEY environment
	// variable; if both are empty the server refuses all
	// authenticated routes.
	APIKey string

	Agent *agent.Agent
}

// Server is the agent's HTTP surface: a gin engine wrapping the agent
// core behind bearer authentication.
type Server struct {
	agent  *agent.Agent
	apiKey string
	http   *http.Server
	logger zerolog.Logger
}

// NewServer builds the server and its routes
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("AGENT_API_KEY")
	}

	s := &Server{
		agent:  cfg.Agent,
		apiKey: apiKey,
		logger: log.WithComponent("api"),
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())
	s.routes(engine)

	s.http = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
	}
	return s
}

func (s *Server) routes(engine *gin.Engine) {
	engine.GET("/healthz", s.handleHealthz)

	auth := engine.Group("/", s.requireAuth())
	auth.POST("/command/execute", s.handleCommandExecute)
	auth.POST("/service/status", s.handleServiceStatus)
	auth.POST("/service/start", s.handleServiceStart)
	auth.POST("/service/stop", s.handleServiceStop)
	auth.POST("/service/uptime", s.handleServiceUptime)
	auth.POST("/logs/truncate", s.handleLogsTruncate)
	auth.POST("/logs/delete-all", s.handleLogsDeleteAll)
	auth.POST("/pruning/execute", s.handlePruning)
	auth.POST("/snapshot/create", s.handleSnapshotCreate)
	auth.POST("/snapshot/restore", s.handleSnapshotRestore)
	auth.POST("/snapshot/check-triggers", s.handleCheckTriggers)
	auth.POST("/state-sync/execute", s.handleStateSync)
	auth.GET("/operation/status/:job_id", s.handleJobStatus)
	auth.POST("/status/busy", s.handleBusy)
	auth.POST("/status/cleanup", s.handleCleanup)
}

// Start blocks serving until Stop is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("Agent API listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("agent api: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Agent API shutting down")
	return s.http.Shutdown(ctx)
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// requestLogger records one line and one counter sample per request.
// The route template keeps the metric's path label bounded.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		metrics.AgentRequestsTotal.WithLabelValues(path, fmt.Sprintf("%d", status)).Inc()

		s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("Request")
	}
}
