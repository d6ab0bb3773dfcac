// Package handler exposes the notification core over HTTP and WebSocket.
package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/apimgr/pharmacy/src/server/model"
	"github.com/apimgr/pharmacy/src/server/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Auth happens at the identity layer; origin is not the boundary
		return true
	},
}

// NotificationHandler serves the notification API
type NotificationHandler struct {
	notifications *service.NotificationService
	healthChecks  *service.HealthCheckService
	hub           *service.WebSocketHub
}

// NewNotificationHandler creates the handler
func NewNotificationHandler(notifications *service.NotificationService, healthChecks *service.HealthCheckService, hub *service.WebSocketHub) *NotificationHandler {
	return &NotificationHandler{
		notifications: notifications,
		healthChecks:  healthChecks,
		hub:           hub,
	}
}

// RegisterRoutes mounts the notification API under group
func (h *NotificationHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/notifications", h.List)
	group.GET("/notifications/unread-count", h.UnreadCount)
	group.POST("/notifications", h.Create)
	group.PUT("/notifications/read-all", h.MarkAllRead)
	group.PUT("/notifications/:id/read", h.MarkRead)
	group.DELETE("/notifications/:id", h.Dismiss)
	group.DELETE("/notifications", h.DismissAll)
	group.POST("/notifications/health-check", h.RunHealthCheck)
	group.GET("/notifications/health-check/status", h.HealthCheckStatus)
	group.GET("/notifications/ws", h.WebSocket)
}

// userID pulls the authenticated user from the X-User-ID header set by
// the auth middleware upstream
func userID(c *gin.Context) (int, bool) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return 0, false
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user identity"})
		return 0, false
	}
	return id, true
}

// List handles GET /notifications
func (h *NotificationHandler) List(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	opts := models.ListOptions{}
	if v := c.Query("limit"); v != "" {
		opts.Limit, _ = strconv.Atoi(v)
	}
	if v := c.Query("offset"); v != "" {
		opts.Offset, _ = strconv.Atoi(v)
	}
	opts.UnreadOnly = c.Query("unread_only") == "true"
	if v := c.Query("category"); v != "" {
		category := models.Category(v)
		if !category.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
			return
		}
		opts.Category = category
	}

	page, err := h.notifications.List(uid, opts)
	if err != nil {
		log.Printf("❌ Failed to list notifications: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list notifications"})
		return
	}
	c.JSON(http.StatusOK, page)
}

// UnreadCount handles GET /notifications/unread-count
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	count, err := h.notifications.UnreadCount(uid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

type createRequest struct {
	Title         string                  `json:"title" binding:"required"`
	Message       string                  `json:"message"`
	Type          models.NotificationType `json:"type"`
	Priority      models.Priority         `json:"priority"`
	Category      models.Category         `json:"category"`
	Metadata      models.Metadata         `json:"metadata"`
	CooldownHours int                     `json:"cooldown_hours"`
	NoDedup       bool                    `json:"no_dedup"`
}

// Create handles POST /notifications
func (h *NotificationHandler) Create(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.notifications.Create(c.Request.Context(), service.CreateParams{
		UserID:        uid,
		Title:         req.Title,
		Message:       req.Message,
		Type:          req.Type,
		Priority:      req.Priority,
		Category:      req.Category,
		Metadata:      req.Metadata,
		CooldownHours: req.CooldownHours,
		NoDedup:       req.NoDedup,
	})
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Printf("❌ Failed to create notification: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create notification"})
		return
	}

	if result.Suppressed {
		c.JSON(http.StatusOK, gin.H{"suppressed": true})
		return
	}
	c.JSON(http.StatusCreated, result.Notification)
}

// MarkRead handles PUT /notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	n, err := h.notifications.MarkRead(c.Param("id"), uid)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark read"})
		return
	}
	c.JSON(http.StatusOK, n)
}

// MarkAllRead handles PUT /notifications/read-all
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	count, err := h.notifications.MarkAllRead(uid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark all read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": count})
}

// Dismiss handles DELETE /notifications/:id
func (h *NotificationHandler) Dismiss(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	if err := h.notifications.Dismiss(c.Param("id"), uid); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to dismiss"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dismissed": true})
}

// DismissAll handles DELETE /notifications
func (h *NotificationHandler) DismissAll(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	count, err := h.notifications.DismissAll(uid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to dismiss all"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dismissed": count})
}

// RunHealthCheck handles POST /notifications/health-check. ?force=true
// bypasses the debounce.
func (h *NotificationHandler) RunHealthCheck(c *gin.Context) {
	if _, ok := userID(c); !ok {
		return
	}

	force := c.Query("force") == "true"
	result := h.healthChecks.RunHealthChecks(c.Request.Context(), force)
	c.JSON(http.StatusOK, result)
}

// HealthCheckStatus handles GET /notifications/health-check/status
func (h *NotificationHandler) HealthCheckStatus(c *gin.Context) {
	if _, ok := userID(c); !ok {
		return
	}

	status, err := h.healthChecks.Status()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read scan status"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// WebSocket handles GET /notifications/ws, upgrading the connection and
// streaming the user's notification change events
func (h *NotificationHandler) WebSocket(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("⚠️  WebSocket upgrade failed: %v", err)
		return
	}

	client := service.NewWebSocketClient(h.hub, conn, uid, uuid.NewString())
	h.hub.RegisterClient(client)

	go client.WritePump()
	client.ReadPump()
}
