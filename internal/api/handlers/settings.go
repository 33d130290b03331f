package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orrn/netprint/internal/config"
	"github.com/orrn/netprint/internal/db"
)

type SettingsStore interface {
	SetSetting(ctx context.Context, key, value string) error
	HistoryDays(ctx context.Context, fallback int) int
}

type SettingsHandler struct {
	config *config.Config
	store  SettingsStore
}

type SettingsResponse struct {
	HistoryDays int `json:"history_days"`
}

type UpdateHistoryRequest struct {
	HistoryDays *int `json:"history_days" binding:"required,min=0"`
}

type ServerConfigResponse struct {
	Port             int      `json:"port"`
	DatabasePath     string   `json:"database_path"`
	SpoolDir         string   `json:"spool_dir"`
	MaxUploadMB      int      `json:"max_upload_mb"`
	MDNSEnabled      bool     `json:"mdns_enabled"`
	MDNSServices     []string `json:"mdns_services"`
	ManualPrinters   int      `json:"manual_printers"`
	ExpirationWindow string   `json:"expiration_window"`
	KnownGoodLimit   int      `json:"known_good_limit"`
	DiscoveryTimeout string   `json:"discovery_timeout"`
	BackendPort      int      `json:"backend_port"`
	StatusQuery      string   `json:"status_query"`
	AuthEnabled      bool     `json:"auth_enabled"`
	LogLevel         string   `json:"log_level"`
	LogFormat        string   `json:"log_format"`
}

func NewSettingsHandler(cfg *config.Config, store SettingsStore) *SettingsHandler {
	return &SettingsHandler{config: cfg, store: store}
}

func (h *SettingsHandler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, SettingsResponse{
		HistoryDays: h.store.HistoryDays(c.Request.Context(), h.config.Database.HistoryDays),
	})
}

// UpdateHistory sets the job history retention. Zero keeps history forever.
func (h *SettingsHandler) UpdateHistory(c *gin.Context) {
	var req UpdateHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	if err := h.store.SetSetting(c.Request.Context(), db.SettingHistoryDays, strconv.Itoa(*req.HistoryDays)); err != nil {
		_ = c.Error(err)
		abortWithError(c, http.StatusInternalServerError, "database_error", "Failed to update history retention")
		return
	}
	c.JSON(http.StatusOK, SettingsResponse{HistoryDays: *req.HistoryDays})
}

func (h *SettingsHandler) GetServerConfig(c *gin.Context) {
	cfg := h.config
	c.JSON(http.StatusOK, ServerConfigResponse{
		Port:             cfg.Server.Port,
		DatabasePath:     cfg.Database.Path,
		SpoolDir:         cfg.Server.SpoolDir,
		MaxUploadMB:      cfg.Server.MaxUploadMB,
		MDNSEnabled:      cfg.Discovery.MDNSEnabled,
		MDNSServices:     cfg.Discovery.MDNSServices,
		ManualPrinters:   len(cfg.Discovery.ManualPrinters),
		ExpirationWindow: cfg.Discovery.ExpirationWindow.String(),
		KnownGoodLimit:   cfg.Discovery.KnownGoodLimit,
		DiscoveryTimeout: cfg.Jobs.DiscoveryTimeout.String(),
		BackendPort:      cfg.Backend.Port,
		StatusQuery:      cfg.Backend.StatusQuery,
		AuthEnabled:      cfg.Auth.Enabled,
		LogLevel:         cfg.Logging.Level,
		LogFormat:        cfg.Logging.Format,
	})
}

func RegisterSettingsRoutes(r *gin.RouterGroup, h *SettingsHandler) {
	r.GET("/settings", h.GetSettings)
	r.PUT("/settings/history", h.UpdateHistory)
	r.GET("/settings/server", h.GetServerConfig)
}
