package engagement

import (
	"log/slog"
	"net/http"

	"pulse/internal/common"

	"github.com/gin-gonic/gin"
)

// Handler handles HTTP requests for the engagement domain.
type Handler struct {
	service *Service
}

// NewHandler creates a new engagement handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// likeRequest is the payload for like/unlike calls.
type likeRequest struct {
	TargetID   string `json:"target_id" binding:"required"`
	TargetType string `json:"target_type" binding:"required,oneof=post reel comment story"`
	UserID     string `json:"user_id" binding:"required"`
	OwnerID    string `json:"owner_id"`
}

// commentRequest is the payload for comment creation.
type commentRequest struct {
	TargetID   string `json:"target_id" binding:"required"`
	TargetType string `json:"target_type" binding:"required,oneof=post reel comment story"`
	UserID     string `json:"user_id" binding:"required"`
	OwnerID    string `json:"owner_id"`
	Content    string `json:"content" binding:"required"`
	ParentID   string `json:"parent_id"`
}

// viewRequest is the payload for view recording.
type viewRequest struct {
	TargetID   string `json:"target_id" binding:"required"`
	TargetType string `json:"target_type" binding:"required,oneof=post reel comment story"`
	UserID     string `json:"user_id"`
	Weight     int64  `json:"weight"`
}

// Like handles POST /api/v1/engagement/like
func (h *Handler) Like(c *gin.Context) {
	var req likeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.service.RecordLike(c.Request.Context(), req.TargetID, TargetType(req.TargetType), req.UserID, req.OwnerID)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, res)
}

// Unlike handles POST /api/v1/engagement/unlike
func (h *Handler) Unlike(c *gin.Context) {
	var req likeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.service.RecordUnlike(c.Request.Context(), req.TargetID, TargetType(req.TargetType), req.UserID)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, res)
}

// Comment handles POST /api/v1/engagement/comment
func (h *Handler) Comment(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.service.RecordComment(
		c.Request.Context(),
		req.TargetID, TargetType(req.TargetType),
		req.UserID, req.OwnerID,
		req.Content, req.ParentID,
	)
	if err != nil {
		slog.Error("comment write failed",
			"target_id", req.TargetID,
			"target_type", req.TargetType,
			"user_id", req.UserID,
			"error", err,
		)
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusCreated, res)
}

// View handles POST /api/v1/engagement/view
func (h *Handler) View(c *gin.Context) {
	var req viewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.service.RecordView(c.Request.Context(), req.TargetID, TargetType(req.TargetType), req.UserID, req.Weight); err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusAccepted, gin.H{"status": "recorded"})
}

// GetCounts handles GET /api/v1/engagement/:type/:id/counts
func (h *Handler) GetCounts(c *gin.Context) {
	counts, err := h.service.Counts(c.Request.Context(), c.Param("id"), TargetType(c.Param("type")))
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, counts)
}

// RegisterRoutes registers engagement routes to the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/engagement/like", h.Like)
	rg.POST("/engagement/unlike", h.Unlike)
	rg.POST("/engagement/comment", h.Comment)
	rg.POST("/engagement/view", h.View)
	rg.GET("/engagement/:type/:id/counts", h.GetCounts)
}
