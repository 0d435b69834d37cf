package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"chart-trade-analyzer/internal/auth"
	"chart-trade-analyzer/internal/lifecycle"
	"chart-trade-analyzer/internal/logging"
	"chart-trade-analyzer/internal/storage"
	"chart-trade-analyzer/internal/trade"
	"chart-trade-analyzer/internal/uploads"
)

// lifecycleStatus maps lifecycle errors to HTTP status codes
func lifecycleStatus(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrTradeNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrTokenMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, lifecycle.ErrTokenConsumed),
		errors.Is(err, lifecycle.ErrNotExecuted),
		errors.Is(err, lifecycle.ErrOutcomeAlreadyReported):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrInvalidInput):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// ownedTrade loads a trade and hides it from anyone but its owner or an admin
func (s *Server) ownedTrade(c *gin.Context) (*trade.Trade, bool) {
	t, err := s.deps.Lifecycle.GetTrade(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorResponse(c, lifecycleStatus(err), err.Error())
		return nil, false
	}
	if t.UserID != s.getUserID(c) && !auth.IsAdmin(c) {
		errorResponse(c, http.StatusNotFound, lifecycle.ErrTradeNotFound.Error())
		return nil, false
	}
	return t, true
}

// handleListTrades returns the caller's trades, newest first
// GET /api/trades?phase=&instrument=&since=&limit=
func (s *Server) handleListTrades(c *gin.Context) {
	s.listTrades(c, s.getUserID(c))
}

// handleListAllTrades lists trades across users, optionally narrowed to one
// GET /api/admin/trades?user=&phase=&instrument=&since=&limit=
func (s *Server) handleListAllTrades(c *gin.Context) {
	s.listTrades(c, strings.TrimSpace(c.Query("user")))
}

// listTrades serves both listings; an empty userID matches every owner
func (s *Server) listTrades(c *gin.Context, userID string) {
	filter := storage.TradeFilter{
		UserID:     userID,
		Instrument: strings.ToUpper(strings.TrimSpace(c.Query("instrument"))),
		Limit:      50,
	}

	if p := c.Query("phase"); p != "" {
		phase, err := trade.ParsePhase(p)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
		filter.Phase = phase
	}
	if since := c.Query("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = ts
	}
	if l := c.Query("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit <= 0 || limit > 500 {
			errorResponse(c, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		filter.Limit = limit
	}

	trades, err := s.deps.Lifecycle.ListTrades(c.Request.Context(), filter)
	if err != nil {
		errorResponse(c, lifecycleStatus(err), "Failed to fetch trades")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"trades":  trades,
		"count":   len(trades),
	})
}

// handleGetTrade returns one trade
// GET /api/trades/:id
func (s *Server) handleGetTrade(c *gin.Context) {
	t, ok := s.ownedTrade(c)
	if !ok {
		return
	}
	successResponse(c, t)
}

type executionRequest struct {
	Token        string    `json:"execution_token" form:"execution_token" validate:"required"`
	ActualEntry  float64   `json:"actual_entry" form:"actual_entry" validate:"gt=0"`
	ActualStop   float64   `json:"actual_stop" form:"actual_stop" validate:"gt=0"`
	ActualTarget float64   `json:"actual_target" form:"actual_target" validate:"gte=0"`
	Outcome      string    `json:"outcome" form:"outcome" default:"pending" validate:"oneof=win loss breakeven pending"`
	Notes        string    `json:"notes" form:"notes" validate:"max=4000"`
	Timestamp    time.Time `json:"timestamp" form:"timestamp"`
}

// handleSubmitExecution links the actual execution to its plan. Accepts
// JSON, or multipart with an optional "screenshot" file.
// POST /api/trades/:id/execution
func (s *Server) handleSubmitExecution(c *gin.Context) {
	ctx := c.Request.Context()
	if _, ok := s.ownedTrade(c); !ok {
		return
	}

	var req executionRequest
	multipartBody := strings.HasPrefix(c.ContentType(), "multipart/")
	if multipartBody {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxUploadBytes)
		if err := bindForm(c, &req); err != nil {
			errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
	} else if err := bindJSON(c, &req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	in := lifecycle.ExecutionInput{
		Token:        req.Token,
		ActualEntry:  req.ActualEntry,
		ActualStop:   req.ActualStop,
		ActualTarget: req.ActualTarget,
		Outcome:      trade.Outcome(req.Outcome),
		Notes:        req.Notes,
		Timestamp:    req.Timestamp,
	}

	var batch *uploads.Batch
	if multipartBody {
		if fh, err := c.FormFile("screenshot"); err == nil {
			batch, err = s.deps.Uploads.NewBatch()
			if err != nil {
				errorResponse(c, http.StatusInternalServerError, "Failed to store uploads")
				return
			}
			ref, err := saveUpload(batch, "execution", fh)
			if err != nil {
				_ = batch.Discard()
				errorResponse(c, uploadStatus(err), err.Error())
				return
			}
			in.Screenshot = &ref
		}
	}

	// on failure the manager removes the screenshot
	log := logging.FromContext(ctx)
	report, err := s.deps.Lifecycle.SubmitExecution(ctx, c.Param("id"), in)
	if err != nil {
		log.Warn().Err(err).Str("trade_id", c.Param("id")).Msg("Execution rejected")
		errorResponse(c, lifecycleStatus(err), err.Error())
		return
	}
	if batch != nil {
		if err := batch.Commit(); err != nil {
			log.Warn().Err(err).Str("batch", batch.ID).Msg("Failed to mark upload batch committed")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    report,
	})
}

type outcomeRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=win loss breakeven"`
}

// handleReportOutcome records the outcome of an executed trade
// POST /api/trades/:id/outcome
func (s *Server) handleReportOutcome(c *gin.Context) {
	if _, ok := s.ownedTrade(c); !ok {
		return
	}

	var req outcomeRequest
	if err := bindJSON(c, &req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := s.deps.Lifecycle.ReportOutcome(c.Request.Context(), c.Param("id"), trade.Outcome(req.Outcome))
	if err != nil {
		errorResponse(c, lifecycleStatus(err), err.Error())
		return
	}
	successResponse(c, updated)
}
