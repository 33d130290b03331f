// Package handlers holds the gin handlers of the HTTP API.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/netprint/internal/core"
	"github.com/orrn/netprint/internal/printer"
	"github.com/orrn/netprint/internal/service"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: code, Message: message})
}

// serviceError maps errors from the print service onto HTTP responses.
func serviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrJobNotFound):
		abortWithError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, core.ErrInvalidRequest), errors.Is(err, printer.ErrInvalidID):
		abortWithError(c, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, service.ErrServiceClosed):
		abortWithError(c, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		_ = c.Error(err)
		abortWithError(c, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func printerIDParam(c *gin.Context) (printer.ID, bool) {
	id, err := printer.ParseID(c.Param("id"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid_id", err.Error())
		return printer.ID{}, false
	}
	return id, true
}
