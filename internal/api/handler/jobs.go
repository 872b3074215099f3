package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ericjohney/photobrain-sub000/internal/api/middleware"
	"github.com/ericjohney/photobrain-sub000/internal/queue"
	"github.com/ericjohney/photobrain-sub000/internal/service"
)

// JobHandler serves scan requests and queue statistics.
type JobHandler struct {
	pipeline *service.Pipeline
	broker   *queue.Broker
}

// NewJobHandler creates a job handler.
func NewJobHandler(pipeline *service.Pipeline, broker *queue.Broker) *JobHandler {
	return &JobHandler{pipeline: pipeline, broker: broker}
}

// StartScan queues a library scan and returns its job ID immediately.
// POST /api/v1/scans
func (h *JobHandler) StartScan(c *gin.Context) {
	jobID, err := h.pipeline.EnqueueScan(c.Request.Context())
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("failed to enqueue scan")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue scan"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// Counts returns per-queue job counts grouped by state.
// GET /api/v1/jobs/counts
func (h *JobHandler) Counts(c *gin.Context) {
	counts, err := h.broker.Counts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queues": counts})
}
