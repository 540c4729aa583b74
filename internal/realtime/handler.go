package realtime

import (
	"github.com/gin-gonic/gin"

	"github.com/aura-chat/backend/pkg/response"
)

// Handler serves read-only room state.
type Handler struct {
	hub *Hub
}

// NewHandler creates a room state handler.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// Participants handles GET /participants. sessions also counts connections
// that have not finished joining.
func (h *Handler) Participants(c *gin.Context) {
	names := h.hub.Participants()
	response.OK(c, gin.H{"participants": names, "count": len(names), "sessions": h.hub.SessionCount()})
}
