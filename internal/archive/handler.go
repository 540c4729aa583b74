package archive

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-chat/backend/pkg/queue"
	"github.com/aura-chat/backend/pkg/response"
)

// Enqueuer schedules archive jobs. *queue.Queue satisfies it.
type Enqueuer interface {
	EnqueueArchive(ctx context.Context, payload queue.ArchivePayload) (*queue.Job, error)
}

// Request is the optional body for POST /history/archive.
type Request struct {
	RequestedBy string `json:"requested_by" binding:"omitempty,max=64"`
	Upto        int    `json:"upto" binding:"min=0"`
}

// Handler serves archive requests. A nil enqueuer answers 503.
type Handler struct {
	jobs   Enqueuer
	logger *zap.Logger
}

// NewHandler creates an archive handler.
func NewHandler(jobs Enqueuer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{jobs: jobs, logger: logger}
}

// Enqueue handles POST /history/archive.
func (h *Handler) Enqueue(c *gin.Context) {
	if h.jobs == nil {
		response.ServiceUnavailable(c, "archiving requires redis")
		return
	}
	var req Request
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	job, err := h.jobs.EnqueueArchive(c.Request.Context(), queue.ArchivePayload{RequestedBy: req.RequestedBy, Upto: req.Upto})
	if err != nil {
		h.logger.Error("enqueue archive failed", zap.Error(err))
		response.Internal(c, "failed to enqueue archive")
		return
	}
	response.Accepted(c, gin.H{"job_id": job.ID})
}
