package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/netprint/internal/core"
)

// ServiceRegistry holds the other print services installed on the host.
type ServiceRegistry interface {
	SetOtherServices(list []core.OtherService)
	OtherServices() []core.OtherService
}

type ServicesHandler struct {
	registry ServiceRegistry
}

type UpdateServicesRequest struct {
	Services []core.OtherService `json:"services"`
}

func NewServicesHandler(registry ServiceRegistry) *ServicesHandler {
	return &ServicesHandler{registry: registry}
}

func (h *ServicesHandler) ListServices(c *gin.Context) {
	list := h.registry.OtherServices()
	if list == nil {
		list = []core.OtherService{}
	}
	c.JSON(http.StatusOK, gin.H{"services": list})
}

// UpdateServices replaces the whole list. Printers reachable by an enabled
// service stop being published.
func (h *ServicesHandler) UpdateServices(c *gin.Context) {
	var req UpdateServicesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	for _, svc := range req.Services {
		if svc.Package == "" {
			abortWithError(c, http.StatusBadRequest, "validation_error", "package is required")
			return
		}
	}

	h.registry.SetOtherServices(req.Services)
	c.JSON(http.StatusOK, gin.H{"services": h.registry.OtherServices()})
}

func RegisterServicesRoutes(r *gin.RouterGroup, h *ServicesHandler) {
	r.GET("/services", h.ListServices)
	r.PUT("/services", h.UpdateServices)
}
