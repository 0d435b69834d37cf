package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chart-trade-analyzer/internal/trade"
)

type setupPatternView struct {
	trade.SetupPatternStat
	SuccessRate float64 `json:"success_rate"`
}

// handleGetSetupPatterns returns the setup aggregates with success rates
// GET /api/patterns/setup
func (s *Server) handleGetSetupPatterns(c *gin.Context) {
	stats, err := s.deps.Patterns.SetupStats(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load setup patterns")
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch setup patterns")
		return
	}

	views := make([]setupPatternView, 0, len(stats))
	for _, st := range stats {
		views = append(views, setupPatternView{SetupPatternStat: st, SuccessRate: st.SuccessRate()})
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"patterns": views,
		"count":    len(views),
	})
}

// handleGetExecutionPatterns returns the behavioral aggregates
// GET /api/patterns/execution
func (s *Server) handleGetExecutionPatterns(c *gin.Context) {
	stats, err := s.deps.Patterns.ExecutionStats(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load execution patterns")
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch execution patterns")
		return
	}
	if stats == nil {
		stats = []trade.ExecutionPatternStat{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"patterns": stats,
		"count":    len(stats),
	})
}

// handleGetPatternSummary returns the same summary the scheduled report publishes
// GET /api/patterns/summary
func (s *Server) handleGetPatternSummary(c *gin.Context) {
	summary, err := s.deps.Patterns.Summarize(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to summarize patterns")
		errorResponse(c, http.StatusInternalServerError, "Failed to summarize patterns")
		return
	}
	successResponse(c, summary)
}
