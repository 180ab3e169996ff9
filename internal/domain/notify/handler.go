package notify

import (
	"net/http"
	"strconv"

	"pulse/internal/common"

	"github.com/gin-gonic/gin"
)

// Handler handles HTTP requests for the notify domain.
type Handler struct {
	service *Service
}

// NewHandler creates a new notify handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Send handles POST /api/v1/notifications
// Enqueues a notification event and returns 202 Accepted.
func (h *Handler) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.service.Notify(c.Request.Context(), &req)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusAccepted, resp)
}

// List handles GET /api/v1/notifications?recipient_id=...&limit=...
func (h *Handler) List(c *gin.Context) {
	recipientID := c.Query("recipient_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	notifications, err := h.service.List(c.Request.Context(), recipientID, limit)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, gin.H{
		"notifications": notifications,
		"count":         len(notifications),
	})
}

// RegisterRoutes registers notify routes to the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/notifications", h.Send)
	rg.GET("/notifications", h.List)
}
