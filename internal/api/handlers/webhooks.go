package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/netprint/internal/config"
	"github.com/orrn/netprint/internal/webhook"
)

const testEvent = "test"

type WebhookResponse struct {
	Index     int      `json:"index"`
	URL       string   `json:"url"`
	Events    []string `json:"events"`
	HasSecret bool     `json:"has_secret"`
}

type TestWebhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// WebhookHandler exposes the configured endpoints. Secrets never leave the
// server.
type WebhookHandler struct {
	hooks  []config.WebhookConfig
	client *http.Client
}

func NewWebhookHandler(hooks []config.WebhookConfig) *WebhookHandler {
	return &WebhookHandler{hooks: hooks, client: &http.Client{Timeout: 10 * time.Second}}
}

func (h *WebhookHandler) ListWebhooks(c *gin.Context) {
	out := make([]WebhookResponse, len(h.hooks))
	for i, hook := range h.hooks {
		events := append([]string{}, hook.Events...)
		out[i] = WebhookResponse{Index: i, URL: hook.URL, Events: events, HasSecret: hook.Secret != ""}
	}
	c.JSON(http.StatusOK, out)
}

// TestWebhook posts a single signed test payload to one endpoint, without
// retries. Delivery failures are reported in the body, not the status.
func (h *WebhookHandler) TestWebhook(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil || idx < 0 || idx >= len(h.hooks) {
		abortWithError(c, http.StatusNotFound, "not_found", "Webhook not found")
		return
	}
	hook := h.hooks[idx]

	body, _ := json.Marshal(webhook.Payload{
		Event:     testEvent,
		Timestamp: time.Now().UTC(),
		Data:      gin.H{"message": "netprint webhook test"},
	})
	header := http.Header{"X-Webhook-Test": []string{"true"}}
	if err := webhook.Post(c.Request.Context(), h.client, hook.URL, hook.Secret, testEvent, body, header); err != nil {
		c.JSON(http.StatusOK, TestWebhookResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, TestWebhookResponse{Success: true, Message: "Webhook delivered"})
}

func RegisterWebhookRoutes(r *gin.RouterGroup, h *WebhookHandler) {
	r.GET("/webhooks", h.ListWebhooks)
	r.POST("/webhooks/:index/test", h.TestWebhook)
}
