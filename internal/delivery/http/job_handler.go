package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Harsh-BH/appjob/internal/domain"
	"github.com/Harsh-BH/appjob/internal/usecase"
)

// JobHandler handles HTTP requests for jobs.
type JobHandler struct {
	svc    *usecase.JobService
	logger *zap.Logger
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(svc *usecase.JobService, logger *zap.Logger) *JobHandler {
	return &JobHandler{svc: svc, logger: logger}
}

func parseJobID(c *gin.Context) (domain.JobID, bool) {
	n, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job ID format"})
		return domain.InvalidJobID, false
	}
	return domain.JobID(n), true
}

// writeError maps service and dispatcher errors to status codes.
func (h *JobHandler) writeError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, usecase.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrUnknownEngine):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrUnknownJob):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, domain.ErrInvalidOperation), errors.Is(err, usecase.ErrDuplicateRequest):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrEngineBusy), errors.Is(err, domain.ErrEngineShutdown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, usecase.ErrHistoryDisabled):
		c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// Start handles POST /api/v1/jobs
func (h *JobHandler) Start(c *gin.Context) {
	var req usecase.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body: " + err.Error(),
		})
		return
	}
	if req.RequestID == "" {
		req.RequestID = c.GetHeader("Idempotency-Key")
	}

	info, err := h.svc.Start(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, "Start job", err)
		return
	}

	status := http.StatusAccepted
	if info.State.IsTerminal() {
		status = http.StatusOK
	}
	c.JSON(status, info)
}

// List handles GET /api/v1/jobs
func (h *JobHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.svc.List()})
}

// GetByID handles GET /api/v1/jobs/:id
func (h *JobHandler) GetByID(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	info, err := h.svc.Get(id)
	if err != nil {
		h.writeError(c, "Get job", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *JobHandler) action(op string, fn func(domain.JobID) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseJobID(c)
		if !ok {
			return
		}
		if err := fn(id); err != nil {
			h.writeError(c, op, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// Cancel handles POST /api/v1/jobs/:id/cancel
func (h *JobHandler) Cancel(c *gin.Context) { h.action("Cancel job", h.svc.Cancel)(c) }

// Suspend handles POST /api/v1/jobs/:id/suspend
func (h *JobHandler) Suspend(c *gin.Context) { h.action("Suspend job", h.svc.Suspend)(c) }

// Resume handles POST /api/v1/jobs/:id/resume
func (h *JobHandler) Resume(c *gin.Context) { h.action("Resume job", h.svc.Resume)(c) }

// Delete handles DELETE /api/v1/jobs/:id
func (h *JobHandler) Delete(c *gin.Context) { h.action("Delete job", h.svc.Delete)(c) }

// History handles GET /api/v1/jobs/:id/history
func (h *JobHandler) History(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	history, err := h.svc.History(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Job history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transitions": history})
}
