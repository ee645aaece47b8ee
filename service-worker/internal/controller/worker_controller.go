// Package controller exposes the archival worker (C9) over HTTP: the
// webhook the streaming enrichment pipeline fires on enqueue, and a status
// endpoint for operational visibility.
package controller

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kurobara/anisource/pkg/archivalworker"
	"github.com/kurobara/anisource/pkg/logger"
)

// WorkerController adapts archivalworker.Worker's poll-and-webhook model to
// an HTTP surface: /trigger, /health, /status.
type WorkerController struct {
	worker *archivalworker.Worker
	salt   string
}

// NewWorkerController builds a WorkerController.
func NewWorkerController(w *archivalworker.Worker, salt string) *WorkerController {
	return &WorkerController{worker: w, salt: salt}
}

// triggerPayload mirrors the webhook body the enrichment pipeline sends;
// the job itself was already enqueued by the caller, so this handler's only
// job is to kick an out-of-band drain cycle rather than wait for the next
// poll tick.
type triggerPayload struct {
	MALID      int    `json:"mal_id"`
	Episode    int    `json:"episode"`
	Provider   string `json:"provider"`
	VideoURL   string `json:"video_url"`
	Resolution string `json:"resolution"`
}

// Trigger answers POST /trigger. Authorization is a bearer token equal to
// the shared archival salt, the same value enrichment.Pipeline signs its
// webhook calls with.
func (w *WorkerController) Trigger(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(w.salt)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid bearer token"})
		return
	}

	var body triggerPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	logger.Infof("trigger received for mal=%d ep=%d provider=%s", body.MALID, body.Episode, body.Provider)

	// The poll cycle is the durable path; this just avoids waiting up to
	// PollInterval for a job that was just enqueued. Runs detached from
	// the request context so it isn't cancelled the instant this handler
	// replies.
	go w.worker.DrainOnce(context.Background())

	c.JSON(http.StatusAccepted, gin.H{"success": true})
}

// Health answers GET /health.
func (w *WorkerController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status answers GET /status with queue counters by status and the total
// archived-entry count.
func (w *WorkerController) Status(c *gin.Context) {
	snapshot, err := w.worker.Status(c.Request.Context())
	if err != nil {
		logger.Errorf(err, "fetch worker status")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"queue_counts":   snapshot.QueueCounts,
		"archived_count": snapshot.ArchivedCount,
	})
}
