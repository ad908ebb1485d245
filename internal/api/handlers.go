// internal/api/handlers.go
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sniper/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/solana-sniper/internal/bot"
	"github.com/rovshanmuradov/solana-sniper/internal/execution"
	"github.com/rovshanmuradov/solana-sniper/internal/export"
	"github.com/rovshanmuradov/solana-sniper/internal/position"
)

const source = "api"

// GET /api/health
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GET /api/status
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Engine.Status())
}

// GET /api/positions?state=open|closed|all
func (s *Server) handleListPositions(c *gin.Context) {
	filter, ok := position.ParseFilter(c.Query("state"))
	if !ok {
		errorResponse(c, http.StatusBadRequest, "state must be open, closed or all")
		return
	}
	positions := s.deps.Engine.ListPositions(filter)
	if positions == nil {
		positions = []position.Position{}
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

// POST /api/positions/:asset/exit
func (s *Server) handleForceExit(c *gin.Context) {
	asset := c.Param("asset")
	err := s.deps.Commands.Send(c.Request.Context(), bot.ForceExitCommand{
		Asset:     asset,
		Source:    source,
		Timestamp: time.Now(),
	})
	if err != nil {
		s.commandError(c, err)
		return
	}

	resp := gin.H{"asset": asset, "status": "closed"}
	if p, ok := lastClosed(s.deps.Engine.ListPositions(position.FilterClosed), asset); ok {
		resp["position"] = p
	}
	c.JSON(http.StatusOK, resp)
}

// POST /api/engine/start
func (s *Server) handleStart(c *gin.Context) {
	if err := s.deps.Commands.Send(c.Request.Context(), bot.StartEngineCommand{Source: source, Timestamp: time.Now()}); err != nil {
		s.commandError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.deps.Engine.Status())
}

// POST /api/engine/stop
func (s *Server) handleStop(c *gin.Context) {
	if err := s.deps.Commands.Send(c.Request.Context(), bot.StopEngineCommand{Source: source, Timestamp: time.Now()}); err != nil {
		s.commandError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.deps.Engine.Status())
}

// GET /api/endpoints
func (s *Server) handleEndpoints(c *gin.Context) {
	statuses := []rpc.EndpointStatus{}
	for _, p := range s.deps.Pools {
		statuses = append(statuses, p.Status()...)
	}
	c.JSON(http.StatusOK, gin.H{"endpoints": statuses})
}

// GET /api/logs?limit=100
func (s *Server) handleLogs(c *gin.Context) {
	if s.deps.Logs == nil {
		errorResponse(c, http.StatusNotFound, "log buffer disabled")
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			errorResponse(c, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, gin.H{"logs": s.deps.Logs.Recent(limit)})
}

// POST /api/export?format=csv|json
func (s *Server) handleExport(c *gin.Context) {
	if s.deps.Exporter == nil {
		errorResponse(c, http.StatusNotFound, "export disabled")
		return
	}
	format := export.ExportFormat(c.DefaultQuery("format", string(s.deps.Exporter.Format)))
	path, err := s.deps.Exporter.Export(s.deps.Engine.ListPositions(position.FilterClosed), format)
	switch {
	case errors.Is(err, export.ErrNothingToExport):
		errorResponse(c, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.logger.Error("Export failed", zap.Error(err))
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"file": path})
}

func (s *Server) commandError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, bot.ErrInvalidCommand), errors.Is(err, bot.ErrInvalidAsset), errors.Is(err, execution.ErrInvalidAsset):
		status = http.StatusBadRequest
	case errors.Is(err, bot.ErrAlreadyRunning):
		status = http.StatusConflict
	case errors.Is(err, execution.ErrNoOpenPosition):
		status = http.StatusNotFound
	case errors.Is(err, execution.ErrUnconfirmed), errors.Is(err, rpc.ErrExhaustedRetries):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("Command failed", zap.Error(err))
	}
	errorResponse(c, status, err.Error())
}

func lastClosed(closed []position.Position, asset string) (position.Position, bool) {
	var (
		found position.Position
		ok    bool
	)
	for _, p := range closed {
		if p.Asset == asset && (!ok || p.ExitTime.After(found.ExitTime)) {
			found, ok = p, true
		}
	}
	return found, ok
}
