package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chart-trade-analyzer/internal/cache"
)

func (s *Server) navigation(c *gin.Context) (NavigationStore, bool) {
	if s.deps.Navigation == nil {
		errorResponse(c, http.StatusServiceUnavailable, "Session state is not enabled")
		return nil, false
	}
	return s.deps.Navigation, true
}

func navigationStatus(err error) int {
	switch {
	case errors.Is(err, cache.ErrNoNavigation):
		return http.StatusNotFound
	case errors.Is(err, cache.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// handleGetNavigation returns the caller's saved navigation state
// GET /api/session/navigation
func (s *Server) handleGetNavigation(c *gin.Context) {
	nav, ok := s.navigation(c)
	if !ok {
		return
	}
	state, err := nav.Get(c.Request.Context(), s.getUserID(c))
	if err != nil {
		errorResponse(c, navigationStatus(err), err.Error())
		return
	}
	successResponse(c, state)
}

// handlePutNavigation replaces the caller's navigation state
// PUT /api/session/navigation
func (s *Server) handlePutNavigation(c *gin.Context) {
	nav, ok := s.navigation(c)
	if !ok {
		return
	}

	var req cache.NavigationState
	if err := bindJSON(c, &req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	state, err := nav.Put(c.Request.Context(), s.getUserID(c), req)
	if err != nil {
		errorResponse(c, navigationStatus(err), err.Error())
		return
	}
	successResponse(c, state)
}

// handleClearNavigation drops the caller's navigation state
// DELETE /api/session/navigation
func (s *Server) handleClearNavigation(c *gin.Context) {
	nav, ok := s.navigation(c)
	if !ok {
		return
	}
	if err := nav.Clear(c.Request.Context(), s.getUserID(c)); err != nil {
		errorResponse(c, navigationStatus(err), err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}
