package history

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-chat/backend/internal/event"
	"github.com/aura-chat/backend/pkg/response"
)

// HeaderLength carries the number of events in a GET /history response.
// Clients pass it as the after cursor when opening the live channel.
const HeaderLength = "X-History-Length"

// Snapshotter reads the whole log. Both Store and the realtime hub satisfy it.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]event.Event, error)
}

// Handler serves the history REST endpoint.
type Handler struct {
	source Snapshotter
	logger *zap.Logger
}

// NewHandler creates a history handler.
func NewHandler(source Snapshotter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{source: source, logger: logger}
}

// List handles GET /history. The body is a bare JSON array of wire events.
func (h *Handler) List(c *gin.Context) {
	events, err := h.source.Snapshot(c.Request.Context())
	if err != nil {
		h.logger.Error("history snapshot failed", zap.Error(err))
		response.Internal(c, "history unavailable")
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	c.Header(HeaderLength, strconv.Itoa(len(events)))
	c.JSON(http.StatusOK, events)
}
