package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/netprint/internal/printer"
)

type DiscoveryService interface {
	StartDiscovery(priority []printer.ID) error
	StopDiscovery() error
	KnownGood(ctx context.Context) ([]string, error)
}

type DiscoveryHandler struct {
	svc DiscoveryService
}

type StartDiscoveryRequest struct {
	Priority []string `json:"priority"`
}

func NewDiscoveryHandler(svc DiscoveryService) *DiscoveryHandler {
	return &DiscoveryHandler{svc: svc}
}

func (h *DiscoveryHandler) Start(c *gin.Context) {
	var req StartDiscoveryRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
	}

	priority := make([]printer.ID, 0, len(req.Priority))
	for _, s := range req.Priority {
		id, err := printer.ParseID(s)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, "invalid_id", err.Error())
			return
		}
		priority = append(priority, id)
	}

	if err := h.svc.StartDiscovery(priority); err != nil {
		serviceError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *DiscoveryHandler) Stop(c *gin.Context) {
	if err := h.svc.StopDiscovery(); err != nil {
		serviceError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *DiscoveryHandler) KnownGood(c *gin.Context) {
	ids, err := h.svc.KnownGood(c.Request.Context())
	if err != nil {
		serviceError(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"printers": ids})
}

func RegisterDiscoveryRoutes(r *gin.RouterGroup, h *DiscoveryHandler) {
	r.POST("/discovery/start", h.Start)
	r.POST("/discovery/stop", h.Stop)
	r.GET("/discovery/known-good", h.KnownGood)
}
