package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/netprint/internal/printer"
)

type PrinterService interface {
	Printers() []printer.Info
	Printer(id printer.ID) (printer.Info, bool)
	StartTracking(id printer.ID) error
	StopTracking(id printer.ID) error
}

type PrinterHandler struct {
	svc PrinterService
}

func NewPrinterHandler(svc PrinterService) *PrinterHandler {
	return &PrinterHandler{svc: svc}
}

func (h *PrinterHandler) ListPrinters(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Printers())
}

func (h *PrinterHandler) GetPrinter(c *gin.Context) {
	id, ok := printerIDParam(c)
	if !ok {
		return
	}

	info, found := h.svc.Printer(id)
	if !found {
		abortWithError(c, http.StatusNotFound, "not_found", "Printer not published")
		return
	}
	c.JSON(http.StatusOK, info)
}

// StartTracking keeps the printer's capabilities fresh while the client is
// looking at it.
func (h *PrinterHandler) StartTracking(c *gin.Context) {
	id, ok := printerIDParam(c)
	if !ok {
		return
	}
	if err := h.svc.StartTracking(id); err != nil {
		serviceError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *PrinterHandler) StopTracking(c *gin.Context) {
	id, ok := printerIDParam(c)
	if !ok {
		return
	}
	if err := h.svc.StopTracking(id); err != nil {
		serviceError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func RegisterPrinterRoutes(r *gin.RouterGroup, h *PrinterHandler) {
	r.GET("/printers", h.ListPrinters)
	r.GET("/printers/:id", h.GetPrinter)
	r.POST("/printers/:id/track", h.StartTracking)
	r.DELETE("/printers/:id/track", h.StopTracking)
}
