package handlers

import (
	"github.com/gin-gonic/gin"

	"withdraw-backend/internal/services"
)

// WebSocketHandler live withdrawal updates for the authenticated user
type WebSocketHandler struct {
	pushService *services.WebSocketPushService
	withdrawals Withdrawals
}

func NewWebSocketHandler(pushService *services.WebSocketPushService, withdrawals Withdrawals) *WebSocketHandler {
	return &WebSocketHandler{
		pushService: pushService,
		withdrawals: withdrawals,
	}
}

// HandleWebSocket GET /api/v1/ws?token=<jwt>
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		return
	}
	h.pushService.HandleWebSocket(c.Writer, c.Request, user.Hex(), h.withdrawals.Status(user))
}
