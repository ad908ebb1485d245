// internal/api/server.go
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sniper/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/solana-sniper/internal/bot"
	"github.com/rovshanmuradov/solana-sniper/internal/logger"
	"github.com/rovshanmuradov/solana-sniper/internal/position"
)

// Engine is the read side of the engine.
type Engine interface {
	Status() bot.Status
	ListPositions(filter position.Filter) []position.Position
}

// Commander routes control commands, normally a *bot.CommandBus.
type Commander interface {
	Send(ctx context.Context, cmd bot.ControlCommand) error
}

// EndpointPool reports endpoint health. Implemented by *rpc.Pool.
type EndpointPool interface {
	Status() []rpc.EndpointStatus
}

// LogSource serves recent log lines. Implemented by *logger.Buffer.
type LogSource interface {
	Recent(limit int) []logger.LogEntry
}

// Deps are the collaborators the handlers use. Pools, Logs and Exporter are
// optional.
type Deps struct {
	Engine   Engine
	Commands Commander
	Pools    []EndpointPool
	Logs     LogSource
	Exporter *ClosedExporter
}

type Config struct {
	Listen string
	// Token, when set, must be presented as "Authorization: Bearer <token>".
	Token string
}

// Server is the HTTP control surface.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	deps       Deps
	cfg        Config
	logger     *zap.Logger
}

// NewServer builds the router. Call Start to listen.
func NewServer(cfg Config, deps Deps, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		router: router,
		deps:   deps,
		cfg:    cfg,
		logger: log.Named("api"),
	}
	router.Use(gin.Recovery(), s.requestLogger())
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/api/health", s.handleHealth)

	api := s.router.Group("/api", s.authMiddleware())
	api.GET("/status", s.handleStatus)
	api.GET("/positions", s.handleListPositions)
	api.POST("/positions/:asset/exit", s.handleForceExit)
	api.POST("/engine/start", s.handleStart)
	api.POST("/engine/stop", s.handleStop)
	api.GET("/endpoints", s.handleEndpoints)
	api.GET("/logs", s.handleLogs)
	api.POST("/export", s.handleExport)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens in the background. Listen errors other than a clean
// shutdown are logged.
func (s *Server) Start() {
	go func() {
		s.logger.Info("API listening", zap.String("addr", s.cfg.Listen))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.Token == "" {
			c.Next()
			return
		}
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
			errorResponse(c, http.StatusUnauthorized, "unauthorized")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}
