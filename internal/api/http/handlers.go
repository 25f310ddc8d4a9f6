// Package http exposes the pipeline to the extension's subsystems:
// error reporting, stats, and notification actions.
package http

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/capturekit/resilience/internal/infrastructure/logging"
	"github.com/capturekit/resilience/internal/notify"
	"github.com/capturekit/resilience/internal/resilience"
)

// Handlers carries the pipeline dependencies for the HTTP surface.
type Handlers struct {
	log       *logging.Logger
	core      *resilience.Core
	reportURL string
	startedAt time.Time
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(log *logging.Logger, core *resilience.Core, reportURL string) *Handlers {
	return &Handlers{
		log:       log.Named("http"),
		core:      core,
		reportURL: reportURL,
		startedAt: time.Now(),
	}
}

// Root describes the service.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "capturekit-resilience",
		"status":  "running",
	})
}

// Health reports liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": time.Since(h.startedAt).String(),
	})
}

// ReportRequest is a collaborator-submitted failure.
type ReportRequest struct {
	Message string         `json:"message" binding:"required"`
	Context map[string]any `json:"context"`
}

// ReportError feeds one failure through the pipeline and returns what the
// pipeline decided. A rethrow (fatal) reports HTTP 200 with the rethrown
// flag set; the error has been logged and notified, and terminating the
// collaborator's call chain is the collaborator's job.
func (h *Handlers) ReportError(c *gin.Context) {
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report format"})
		return
	}

	out := h.core.Handle(c.Request.Context(), errors.New(req.Message), req.Context)

	resp := gin.H{
		"record":     out.Record,
		"suppressed": out.Suppressed,
		"action":     out.Action,
		"notified":   out.Notified,
		"rethrown":   out.Err != nil,
	}
	c.JSON(http.StatusOK, resp)
}

// Stats returns the JSON counters snapshot.
func (h *Handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.core.Stats())
}

// Recent returns up to n recent records, newest first. Default 20.
func (h *Handlers) Recent(c *gin.Context) {
	n := 20
	if raw := c.Query("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "n must be a non-negative integer"})
			return
		}
		n = parsed
	}
	c.JSON(http.StatusOK, gin.H{"records": h.core.Recent(n)})
}

// ActiveNotifications lists persistent notifications awaiting dismissal.
func (h *Handlers) ActiveNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"notifications": h.core.Notifications().Active()})
}

// DismissNotification removes a persistent notification.
func (h *Handlers) DismissNotification(c *gin.Context) {
	id := c.Param("id")
	if !h.core.DismissNotification(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dismissed": id})
}

// RetryError re-dispatches an error-retry event for a recorded failure.
func (h *Handlers) RetryError(c *gin.Context) {
	id := c.Param("id")
	h.core.RetryError(id)
	c.JSON(http.StatusAccepted, gin.H{"retry": id})
}

// Diagnostics returns the gzip-compressed diagnostic bundle for a record,
// base64-wrapped for clipboard transport, plus the pre-filled issue URL.
func (h *Handlers) Diagnostics(c *gin.Context) {
	id := c.Param("id")
	bundle, err := h.core.Diagnostics(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}

	data, err := notify.EncodeBundle(bundle)
	if err != nil {
		h.log.Error("bundle encode failed", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "bundle encoding failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bundle":     base64.StdEncoding.EncodeToString(data),
		"report_url": notify.ReportURL(h.reportURL, bundle.Record),
	})
}
