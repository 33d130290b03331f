package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orrn/netprint/internal/core"
	"github.com/orrn/netprint/internal/db"
	"github.com/orrn/netprint/internal/printer"
	"github.com/orrn/netprint/internal/service"
)

const (
	sniffLen        = 512
	multipartMemory = 8 << 20
)

type JobService interface {
	Enqueue(req core.JobRequest) (string, error)
	Cancel(ctx context.Context, jobID string) error
	Reprint(ctx context.Context, jobID string) (string, error)
	Jobs() []service.JobView
	Job(id string) (service.JobView, bool)
	QueueState() (pending int, running bool)
	History(ctx context.Context, filter db.JobFilter) ([]*db.JobRecord, error)
	HistoryJob(ctx context.Context, id string) (*db.JobRecord, error)
}

type JobHandler struct {
	svc       JobService
	spoolDir  string
	maxUpload int64
	logger    *zap.Logger
}

type CreateJobResponse struct {
	ID string `json:"id"`
}

type QueueResponse struct {
	Pending int  `json:"pending"`
	Running bool `json:"running"`
}

type ListHistoryQuery struct {
	PrinterID string `form:"printer_id"`
	State     string `form:"state"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset    int    `form:"offset" binding:"omitempty,min=0"`
}

func NewJobHandler(svc JobService, spoolDir string, maxUploadMB int, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		svc:       svc,
		spoolDir:  spoolDir,
		maxUpload: int64(maxUploadMB) << 20,
		logger:    logger.Named("jobs"),
	}
}

// CreateJob accepts a multipart upload with the document in "file" and
// spools it before queueing.
func (h *JobHandler) CreateJob(c *gin.Context) {
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWithError(c, http.StatusRequestEntityTooLarge, "too_large", "Document exceeds the upload limit")
			return
		}
		abortWithError(c, http.StatusBadRequest, "validation_error", "multipart form expected")
		return
	}

	printerID, err := printer.ParseID(c.PostForm("printer_id"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "validation_error", "printer_id is required")
		return
	}

	copies := 0
	if v := c.PostForm("copies"); v != "" {
		copies, err = strconv.Atoi(v)
		if err != nil || copies < 0 {
			abortWithError(c, http.StatusBadRequest, "validation_error", "copies must be a non-negative integer")
			return
		}
	}

	file, err := c.FormFile("file")
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "validation_error", "file is required")
		return
	}

	mimeType, err := h.detectMimeType(c.PostForm("mime_type"), file)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	path := filepath.Join(h.spoolDir, uuid.NewString()+strings.ToLower(filepath.Ext(file.Filename)))
	if err := c.SaveUploadedFile(file, path); err != nil {
		h.logger.Error("failed to spool document", zap.String("path", path), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "spool_error", "Failed to store document")
		return
	}

	name := c.PostForm("name")
	if name == "" {
		name = file.Filename
	}
	submittedBy := c.PostForm("submitted_by")
	if submittedBy == "" {
		submittedBy = c.ClientIP()
	}

	id, err := h.svc.Enqueue(core.JobRequest{
		PrinterID:   printerID,
		Name:        name,
		Document:    core.Document{Path: path, Name: file.Filename, MimeType: mimeType},
		Copies:      copies,
		SubmittedBy: submittedBy,
	})
	if err != nil {
		_ = os.Remove(path)
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, CreateJobResponse{ID: id})
}

// detectMimeType prefers the explicit form value, then the part header, then
// the content itself.
func (h *JobHandler) detectMimeType(explicit string, file *multipart.FileHeader) (string, error) {
	if explicit != "" {
		mediaType, _, err := mime.ParseMediaType(explicit)
		if err != nil {
			return "", errors.New("invalid mime_type")
		}
		return mediaType, nil
	}
	if header := file.Header.Get("Content-Type"); header != "" {
		if mediaType, _, err := mime.ParseMediaType(header); err == nil && mediaType != "application/octet-stream" {
			return mediaType, nil
		}
	}

	f, err := file.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	mediaType, _, _ := mime.ParseMediaType(http.DetectContentType(buf[:n]))
	return mediaType, nil
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Jobs())
}

func (h *JobHandler) GetJob(c *gin.Context) {
	id := c.Param("id")
	if view, ok := h.svc.Job(id); ok {
		c.JSON(http.StatusOK, view)
		return
	}

	rec, err := h.svc.HistoryJob(c.Request.Context(), id)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *JobHandler) CancelJob(c *gin.Context) {
	if err := h.svc.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		serviceError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *JobHandler) ReprintJob(c *gin.Context) {
	id, err := h.svc.Reprint(c.Request.Context(), c.Param("id"))
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, CreateJobResponse{ID: id})
}

func (h *JobHandler) GetQueue(c *gin.Context) {
	pending, running := h.svc.QueueState()
	c.JSON(http.StatusOK, QueueResponse{Pending: pending, Running: running})
}

func (h *JobHandler) ListHistory(c *gin.Context) {
	var q ListHistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		abortWithError(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	recs, err := h.svc.History(c.Request.Context(), db.JobFilter{
		PrinterID: q.PrinterID,
		State:     q.State,
		Limit:     q.Limit,
		Offset:    q.Offset,
	})
	if err != nil {
		serviceError(c, err)
		return
	}
	if recs == nil {
		recs = []*db.JobRecord{}
	}
	c.JSON(http.StatusOK, recs)
}

// RegisterJobRoutes mounts the job endpoints. The submit handlers run in
// front of the endpoints that queue new jobs.
func RegisterJobRoutes(r *gin.RouterGroup, h *JobHandler, submit ...gin.HandlerFunc) {
	withSubmit := func(fn gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, submit...), fn)
	}

	r.POST("/jobs", withSubmit(h.CreateJob)...)
	r.GET("/jobs", h.ListJobs)
	r.GET("/jobs/:id", h.GetJob)
	r.POST("/jobs/:id/cancel", h.CancelJob)
	r.POST("/jobs/:id/reprint", withSubmit(h.ReprintJob)...)
	r.GET("/queue", h.GetQueue)
	r.GET("/history", h.ListHistory)
}
