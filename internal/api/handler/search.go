package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ericjohney/photobrain-sub000/internal/api/middleware"
	"github.com/ericjohney/photobrain-sub000/internal/service"
)

// SearchHandler serves natural-language photo search.
type SearchHandler struct {
	search *service.SearchService
}

// NewSearchHandler creates a search handler.
func NewSearchHandler(search *service.SearchService) *SearchHandler {
	return &SearchHandler{search: search}
}

type searchRequest struct {
	Query string `json:"query" binding:"required"`
	Limit int    `json:"limit"`
}

// TextSearch runs a similarity query.
// POST /api/v1/search
func (h *SearchHandler) TextSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	results, err := h.search.Search(c.Request.Context(), req.Query, req.Limit)
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("search failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"query":   req.Query,
		"results": results,
		"count":   len(results),
	})
}
