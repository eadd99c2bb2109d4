package api

import (
	"errors"
	"net/http"
	"strconv"

	"audiostreamd/internal/errs"
	"audiostreamd/internal/jobs"
	"audiostreamd/internal/store"

	"github.com/gin-gonic/gin"
)

// Handlers holds the gin route handlers for the public command surface.
// Thin by design: every handler parses its request, calls into Service,
// and maps the result (or error kind) onto an HTTP status and gin.H
// envelope, mirroring the teacher's handler/service split.
type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// errorStatus maps an errs.Kind to the HTTP status the command table's
// error column implies (§7).
func errorStatus(err error) int {
	switch errs.KindOf(err) {
	case errs.InputInvalid:
		return http.StatusBadRequest
	case errs.StateConflict:
		return http.StatusConflict
	case errs.ExternalUnavailable, errs.ExternalRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"status": "error", "error": err.Error(), "kind": string(errs.KindOf(err))})
}

// Health handles GET /health
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type startStreamRequest struct {
	Identifier         string `json:"identifier" binding:"required"`
	SkipPostProcessing bool   `json:"skip_post_processing"`
}

// StartStream handles POST /api/stream/start
func (h *Handlers) StartStream(c *gin.Context) {
	var req startStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid request body"})
		return
	}
	title, err := h.svc.StartStream(c.Request.Context(), req.Identifier, req.SkipPostProcessing)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "identifier": req.Identifier, "title": title})
}

// StopStream handles POST /api/stream/stop
func (h *Handlers) StopStream(c *gin.Context) {
	h.svc.StopStream()
	c.JSON(http.StatusOK, gin.H{"status": "idle"})
}

// Status handles GET /api/stream/status
func (h *Handlers) Status(c *gin.Context) {
	st := h.svc.Status()
	c.JSON(http.StatusOK, gin.H{
		"state":            st.State,
		"identifier":       st.Identifier,
		"duration_seconds": st.DurationSeconds,
		"failed":           st.Failed,
		"last_error":       st.LastError,
	})
}

// CaptureReady handles GET /api/stream/capture-ready/:identifier
func (h *Handlers) CaptureReady(c *gin.Context) {
	identifier := c.Param("identifier")
	c.JSON(http.StatusOK, gin.H{"ready": h.svc.CaptureReady(identifier)})
}

type enqueueItemRequest struct {
	Identifier         string `json:"identifier" binding:"required"`
	SkipPostProcessing bool   `json:"skip_post_processing"`
}

// EnqueueItem handles POST /api/queue
func (h *Handlers) EnqueueItem(c *gin.Context) {
	var req enqueueItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid request body"})
		return
	}
	added, title, err := h.svc.EnqueueItem(c.Request.Context(), req.Identifier, req.SkipPostProcessing)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added, "title": title})
}

// ListQueue handles GET /api/queue
func (h *Handlers) ListQueue(c *gin.Context) {
	entries, err := h.svc.ListQueue(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "entries": entries})
}

// RemoveEntry handles DELETE /api/queue/:id
func (h *Handlers) RemoveEntry(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid entry id"})
		return
	}
	if err := h.svc.RemoveEntry(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrEntryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "entry not found"})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type reorderQueueRequest struct {
	EntryIDs []int64 `json:"entry_ids" binding:"required"`
}

// ReorderQueue handles POST /api/queue/reorder
func (h *Handlers) ReorderQueue(c *gin.Context) {
	var req reorderQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid request body"})
		return
	}
	if err := h.svc.ReorderQueue(c.Request.Context(), req.EntryIDs); err != nil {
		if errors.Is(err, store.ErrSetMismatch) {
			c.JSON(http.StatusConflict, gin.H{"status": "error", "error": "reordered set does not match current queue"})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Next handles POST /api/queue/next
func (h *Handlers) Next(c *gin.Context) {
	result, err := h.svc.Next(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if !result.Started {
		c.JSON(http.StatusOK, gin.H{"status": "queue_empty"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started", "identifier": result.Identifier, "title": result.Title})
}

// ClearQueue handles POST /api/queue/clear
func (h *Handlers) ClearQueue(c *gin.Context) {
	if err := h.svc.ClearQueue(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListHistory handles GET /api/history?limit=N
func (h *Handlers) ListHistory(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entries, err := h.svc.ListHistory(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "entries": entries})
}

// ClearHistory handles DELETE /api/history
func (h *Handlers) ClearHistory(c *gin.Context) {
	if err := h.svc.ClearHistory(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// JobStatus handles GET /api/jobs/:identifier
func (h *Handlers) JobStatus(c *gin.Context) {
	job, ok := h.svc.JobStatus(c.Param("identifier"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"status": "not_found"})
		return
	}
	c.JSON(http.StatusOK, jobView(job))
}

func jobView(job jobs.Job) gin.H {
	return gin.H{
		"identifier":    job.Identifier,
		"kind":          job.Kind,
		"state":         job.State,
		"attempt_count": job.AttemptCount,
		"last_error":    job.LastError,
		"created_at":    job.CreatedAt,
		"started_at":    job.StartedAt,
		"finished_at":   job.FinishedAt,
		"external_url":  job.ExternalURL,
	}
}
