// Package service is the composition root of the print subsystem: it owns the
// discovery session and the job queue and exposes them to the HTTP layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orrn/netprint/internal/config"
	"github.com/orrn/netprint/internal/core"
	"github.com/orrn/netprint/internal/db"
	"github.com/orrn/netprint/internal/loop"
	"github.com/orrn/netprint/internal/metrics"
	"github.com/orrn/netprint/internal/printer"
)

var ErrServiceClosed = errors.New("print service closed")

// Deps are the collaborators wired into the service. History, Events and
// Notifier are optional.
type Deps struct {
	Exec      loop.Executor
	Discovery core.Discovery
	Resolver  core.CapabilityResolver
	Backend   core.Backend
	KeepAlive core.KeepAlive
	Store     core.KnownGoodStore
	History   JobHistory
	Events    EventSink
	Notifier  Notifier
	Metrics   *metrics.Metrics
}

// PrintService is safe for concurrent use. Every operation on the session or
// queue is posted onto the control loop.
type PrintService struct {
	exec     loop.Executor
	logger   *zap.Logger
	host     *hostState
	services *OtherServices
	history  JobHistory
	session  *core.DiscoverySession
	queue    *core.JobQueue
	closed   atomic.Bool
}

func New(cfg *config.Config, deps Deps, logger *zap.Logger) *PrintService {
	logger = logger.Named("service")
	m := deps.Metrics
	if m == nil {
		m = metrics.NewNop()
	}

	host := newHostState(logger, m, deps.Events, deps.Notifier, deps.History)
	services := NewOtherServices()

	session := core.NewDiscoverySession(deps.Exec, core.SessionConfig{
		Discovery:        deps.Discovery,
		Resolver:         deps.Resolver,
		Host:             host,
		Store:            deps.Store,
		Services:         services,
		ExpirationWindow: cfg.Discovery.ExpirationWindow,
		KnownGoodLimit:   cfg.Discovery.KnownGoodLimit,
	}, logger)

	queue := core.NewJobQueue(deps.Exec, core.JobDeps{
		Discovery:        deps.Discovery,
		Resolver:         deps.Resolver,
		Backend:          deps.Backend,
		Host:             host,
		KeepAlive:        deps.KeepAlive,
		DiscoveryTimeout: cfg.Jobs.DiscoveryTimeout,
	}, host, logger)

	return &PrintService{
		exec:     deps.Exec,
		logger:   logger,
		host:     host,
		services: services,
		history:  deps.History,
		session:  session,
		queue:    queue,
	}
}

// Init restores persisted state. The control loop must be running.
func (s *PrintService) Init(ctx context.Context) error {
	var err error
	if callErr := loop.Call(ctx, s.exec, func() { err = s.session.LoadKnownGood(ctx) }); callErr != nil {
		return callErr
	}
	if err != nil {
		return fmt.Errorf("load known-good printers: %w", err)
	}
	return nil
}

func (s *PrintService) post(fn func()) error {
	if s.closed.Load() || !s.exec.Post(fn) {
		return ErrServiceClosed
	}
	return nil
}

// StartDiscovery (re)starts discovery. Printers in priority get their
// capabilities resolved ahead of the others.
func (s *PrintService) StartDiscovery(priority []printer.ID) error {
	ids := append([]printer.ID(nil), priority...)
	return s.post(func() { s.session.StartDiscovery(ids) })
}

func (s *PrintService) StopDiscovery() error {
	return s.post(s.session.StopDiscovery)
}

func (s *PrintService) StartTracking(id printer.ID) error {
	return s.post(func() { s.session.StartTracking(id) })
}

func (s *PrintService) StopTracking(id printer.ID) error {
	return s.post(func() { s.session.StopTracking(id) })
}

// Enqueue validates the request and queues it. The job id is returned before
// the job runs; progress is reported through job updates.
func (s *PrintService) Enqueue(req core.JobRequest) (string, error) {
	if s.closed.Load() {
		return "", ErrServiceClosed
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	if req.Copies == 0 {
		req.Copies = 1
	}

	id := uuid.NewString()
	s.host.registerJob(id, req, s.exec.Now())
	err := s.post(func() {
		s.host.persistJob(id)
		s.queue.Enqueue(s.queue.NewJob(id, req))
	})
	if err != nil {
		s.host.dropJob(id)
		return "", err
	}
	s.logger.Info("job submitted", zap.String("job_id", id), zap.Stringer("printer", req.PrinterID))
	return id, nil
}

// Cancel stops a pending or running job.
func (s *PrintService) Cancel(ctx context.Context, jobID string) error {
	if s.closed.Load() {
		return ErrServiceClosed
	}
	var found bool
	if err := loop.Call(ctx, s.exec, func() { found = s.queue.Cancel(jobID) }); err != nil {
		if errors.Is(err, loop.ErrStopped) {
			return ErrServiceClosed
		}
		return err
	}
	if !found {
		return fmt.Errorf("job %s: %w", jobID, core.ErrJobNotFound)
	}
	return nil
}

// Reprint submits a new job with the document and settings of an earlier
// one.
func (s *PrintService) Reprint(ctx context.Context, jobID string) (string, error) {
	if view, ok := s.host.job(jobID); ok {
		return s.Enqueue(view.req)
	}

	rec, err := s.HistoryJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	id, err := printer.ParseID(rec.PrinterID)
	if err != nil {
		return "", fmt.Errorf("job %s: %w", jobID, err)
	}
	return s.Enqueue(core.JobRequest{
		PrinterID:   id,
		Name:        rec.Name,
		Document:    core.Document{Path: rec.DocumentPath, Name: rec.DocumentName, MimeType: rec.MimeType},
		Copies:      rec.Copies,
		SubmittedBy: rec.SubmittedBy,
	})
}

// SetOtherServices replaces the list of other print services whose printers
// are hidden from the host.
func (s *PrintService) SetOtherServices(list []core.OtherService) {
	s.services.Set(list)
}

func (s *PrintService) OtherServices() []core.OtherService {
	return s.services.List()
}

// Printers returns the printers currently published, sorted by name.
func (s *PrintService) Printers() []printer.Info {
	return s.host.printerList()
}

func (s *PrintService) Printer(id printer.ID) (printer.Info, bool) {
	return s.host.printer(id)
}

// Jobs returns recent jobs, oldest first.
func (s *PrintService) Jobs() []JobView {
	return s.host.jobList()
}

func (s *PrintService) Job(id string) (JobView, bool) {
	return s.host.job(id)
}

func (s *PrintService) QueueState() (pending int, running bool) {
	return s.host.queueState()
}

func (s *PrintService) KnownGood(ctx context.Context) ([]string, error) {
	var ids []string
	if err := loop.Call(ctx, s.exec, func() { ids = s.session.KnownGood() }); err != nil {
		if errors.Is(err, loop.ErrStopped) {
			return nil, ErrServiceClosed
		}
		return nil, err
	}
	return ids, nil
}

func (s *PrintService) History(ctx context.Context, filter db.JobFilter) ([]*db.JobRecord, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.ListJobs(ctx, filter)
}

// HistoryJob returns the recorded row of a job, including jobs no longer
// held in memory.
func (s *PrintService) HistoryJob(ctx context.Context, jobID string) (*db.JobRecord, error) {
	if s.history == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, core.ErrJobNotFound)
	}
	rec, err := s.history.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("job %s: %w", jobID, core.ErrJobNotFound)
		}
		return nil, err
	}
	return rec, nil
}

// PurgeHistory deletes finished jobs older than before along with their
// spooled documents.
func (s *PrintService) PurgeHistory(ctx context.Context, before time.Time) (int, error) {
	if s.history == nil {
		return 0, nil
	}
	paths, err := s.history.PurgeJobs(ctx, before)
	if err != nil {
		return 0, err
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to remove spooled document", zap.String("path", p), zap.Error(err))
		}
	}
	if len(paths) > 0 {
		s.logger.Info("purged job history", zap.Int("jobs", len(paths)))
	}
	return len(paths), nil
}

// Close cancels every job, stops discovery and persists the known-good list.
// Calling it again is a no-op.
func (s *PrintService) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var closeErr error
	err := loop.Call(ctx, s.exec, func() {
		s.queue.CancelAll()
		closeErr = s.session.Close(ctx)
	})
	s.host.close()
	return errors.Join(err, closeErr)
}
