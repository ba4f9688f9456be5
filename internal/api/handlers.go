package api

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"seylanebot/internal/auth"
	"seylanebot/internal/models"
	"seylanebot/internal/pipeline"
	"seylanebot/internal/service/instagram"
	"seylanebot/internal/service/store"
	"seylanebot/internal/settings"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	eventReceived   = "EVENT_RECEIVED"
)

// Dispatcher hands inbound events to the pipeline. *pipeline.Pipeline fits.
type Dispatcher interface {
	Dispatch(ev *instagram.InboundEvent) error
}

// SettingsService is the dashboard view of the runtime settings.
type SettingsService interface {
	List(ctx context.Context) (map[string]string, error)
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, key string) error
}

// Handler wires the webhook and the admin API to the store and the pipeline.
type Handler struct {
	store    *store.Service
	hub      *pipeline.Hub
	pipe     Dispatcher
	settings SettingsService
	auth     *auth.Service
	logger   *slog.Logger
}

func NewHandler(st *store.Service, hub *pipeline.Hub, pipe Dispatcher, settingsSvc SettingsService, authService *auth.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:    st,
		hub:      hub,
		pipe:     pipe,
		settings: settingsSvc,
		auth:     authService,
		logger:   logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.describe)
	router.GET("/health", h.health)

	webhook := router.Group("/webhook")
	webhook.GET("", h.verifyWebhook)
	webhook.POST("", h.receiveWebhook)
	webhook.POST("/test", h.testSend)

	api := router.Group("/api")
	api.Use(h.auth.Middleware())
	api.GET("/conversations", h.listConversations)
	api.GET("/conversations/:id", h.getConversation)
	api.PATCH("/conversations/:id/status", h.updateConversationStatus)
	api.GET("/analytics/overview", h.analyticsOverview)
	api.GET("/analytics/messages-over-time", h.messagesOverTime)
	api.GET("/analytics/intent-distribution", h.intentDistribution)
	api.GET("/settings", h.listSettings)
	api.POST("/settings", h.updateSettings)
	api.GET("/settings/:key", h.getSetting)
	api.DELETE("/settings/:key", h.deleteSetting)
	api.GET("/logs", h.recentLogs)
	api.GET("/test/:service", h.testConnection)
}

func (h *Handler) describe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    "Seylane Chat Bot",
		"version": "1.0.0",
		"status":  "running",
		"endpoints": gin.H{
			"api": gin.H{
				"conversations":      "GET /api/conversations",
				"conversation":       "GET /api/conversations/:id",
				"conversationStatus": "PATCH /api/conversations/:id/status",
				"analyticsOverview":  "GET /api/analytics/overview",
				"messagesOverTime":   "GET /api/analytics/messages-over-time",
				"intentDistribution": "GET /api/analytics/intent-distribution",
				"settings":           "GET /api/settings",
				"updateSettings":     "POST /api/settings",
				"deleteSetting":      "DELETE /api/settings/:key",
				"logs":               "GET /api/logs",
				"testConnection":     "GET /api/test/:service",
			},
			"webhook": gin.H{
				"instagram": "GET/POST /webhook",
				"testSend":  "POST /webhook/test",
			},
		},
	})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

// Webhook

func (h *Handler) verifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")
	if mode == "" || token == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	svc := h.hub.Current()
	if svc == nil || svc.Verifier == nil {
		c.Status(http.StatusForbidden)
		return
	}
	reply, ok := svc.Verifier.VerifyHandshake(mode, token, challenge)
	if !ok {
		h.logger.Warn("webhook verification rejected", "mode", mode)
		c.Status(http.StatusForbidden)
		return
	}
	h.logger.Info("webhook verified")
	c.String(http.StatusOK, reply)
}

// receiveWebhook always acknowledges accepted payloads; processing happens off
// the request so the platform does not redeliver on slow replies.
func (h *Handler) receiveWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body failed"})
		return
	}
	if svc := h.hub.Current(); svc != nil && svc.Snapshot.InstagramAppSecret != "" {
		if !instagram.VerifySignature(body, c.GetHeader(signatureHeader), svc.Snapshot.InstagramAppSecret) {
			h.logger.Warn("webhook signature mismatch")
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
	}

	ev, err := instagram.ParseInboundEvent(body)
	switch {
	case err != nil:
		h.logger.Warn("webhook payload ignored", "error", err)
	case ev == nil:
		h.logger.Debug("webhook carried no message text")
	default:
		h.logger.Info("message received", "sender_id", ev.SenderID, "mid", ev.MID)
		if err := h.pipe.Dispatch(ev); err != nil {
			h.logger.Error("dispatch message", "sender_id", ev.SenderID, "error", err)
		}
	}
	c.String(http.StatusOK, eventReceived)
}

type testSendRequest struct {
	RecipientID string `json:"recipientId"`
	Message     string `json:"message"`
}

func (h *Handler) testSend(c *gin.Context) {
	var req testSendRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.RecipientID) == "" || strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipientId and message required"})
		return
	}
	svc := h.hub.Current()
	if svc == nil || svc.Gateway == nil || !svc.Gateway.Deliver(c.Request.Context(), req.RecipientID, req.Message) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send message"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Message sent"})
}

// Conversations

func (h *Handler) listConversations(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)
	conversations, err := h.store.ListConversations(c.Request.Context(), limit, offset)
	if err != nil {
		h.serverError(c, "Failed to fetch conversations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

func (h *Handler) getConversation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	conv, messages, err := h.store.GetConversation(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
			return
		}
		h.serverError(c, "Failed to fetch conversation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv, "messages": messages})
}

func (h *Handler) updateConversationStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	status := models.ConversationStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be active, archived or blocked"})
		return
	}
	if err := h.store.UpdateConversationStatus(c.Request.Context(), id, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
			return
		}
		h.serverError(c, "Failed to update conversation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": status})
}

// Analytics

func (h *Handler) analyticsOverview(c *gin.Context) {
	overview, err := h.store.Overview(c.Request.Context())
	if err != nil {
		h.serverError(c, "Failed to fetch analytics", err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

func (h *Handler) messagesOverTime(c *gin.Context) {
	stats, err := h.store.MessagesOverTime(c.Request.Context(), queryInt(c, "days", 30))
	if err != nil {
		h.serverError(c, "Failed to fetch message stats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (h *Handler) intentDistribution(c *gin.Context) {
	stats, err := h.store.IntentDistribution(c.Request.Context())
	if err != nil {
		h.serverError(c, "Failed to fetch intent distribution", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// Settings

func (h *Handler) listSettings(c *gin.Context) {
	values, err := h.settings.List(c.Request.Context())
	if err != nil {
		h.serverError(c, "Failed to fetch settings", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": values})
}

func (h *Handler) updateSettings(c *gin.Context) {
	var updates map[string]string
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "settings must be an object of string values"})
		return
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no settings provided"})
		return
	}
	if err := h.settings.Set(c.Request.Context(), updates); err != nil {
		h.serverError(c, "Failed to update settings", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) getSetting(c *gin.Context) {
	value, err := h.settings.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		if errors.Is(err, settings.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Setting not found"})
			return
		}
		h.serverError(c, "Failed to fetch setting", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"value": value})
}

func (h *Handler) deleteSetting(c *gin.Context) {
	if err := h.settings.Delete(c.Request.Context(), c.Param("key")); err != nil {
		if errors.Is(err, settings.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Setting not found"})
			return
		}
		h.serverError(c, "Failed to delete setting", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Logs and connection checks

func (h *Handler) recentLogs(c *gin.Context) {
	logs, err := h.store.RecentLogs(c.Request.Context(), queryInt(c, "limit", 100))
	if err != nil {
		h.serverError(c, "Failed to fetch logs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (h *Handler) testConnection(c *gin.Context) {
	name := strings.ToLower(c.Param("service"))
	svc := h.hub.Current()
	if svc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "services not ready"})
		return
	}
	check, ok := svc.Checks[name]
	if !ok || check == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown service " + name})
		return
	}
	c.JSON(http.StatusOK, check.TestConnection(c.Request.Context()))
}

func (h *Handler) serverError(c *gin.Context, message string, err error) {
	h.logger.Error(message, "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": message})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return 0, false
	}
	return id, true
}

// queryInt falls back to def for missing, malformed or non-positive values.
func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
