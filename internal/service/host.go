package service

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/netprint/internal/core"
	"github.com/orrn/netprint/internal/db"
	"github.com/orrn/netprint/internal/metrics"
	"github.com/orrn/netprint/internal/printer"
	"github.com/orrn/netprint/internal/webhook"
)

const maxFinishedJobs = 200

type EventType string

const (
	EventPrinterAdded   EventType = "printer_added"
	EventPrinterRemoved EventType = "printer_removed"
	EventJobUpdated     EventType = "job_updated"
)

// Event is what live subscribers receive.
type Event struct {
	Type      EventType     `json:"type"`
	Time      time.Time     `json:"time"`
	Printer   *printer.Info `json:"printer,omitempty"`
	PrinterID string        `json:"printer_id,omitempty"`
	Job       *JobView      `json:"job,omitempty"`
}

// EventSink receives events on the control loop and must not block.
type EventSink interface {
	Publish(e Event)
}

// Notifier delivers events to external endpoints without blocking.
type Notifier interface {
	Send(event webhook.Event, data any)
}

// JobView is the host-facing state of a job.
type JobView struct {
	ID           string        `json:"id"`
	PrinterID    string        `json:"printer_id"`
	Name         string        `json:"name"`
	DocumentName string        `json:"document_name"`
	MimeType     string        `json:"mime_type"`
	Copies       int           `json:"copies"`
	SubmittedBy  string        `json:"submitted_by,omitempty"`
	State        core.JobState `json:"state"`
	Reason       string        `json:"reason,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`

	req core.JobRequest
}

// hostState implements core.Host and core.QueueObserver. It keeps the
// published printers and recent jobs readable from any goroutine and fans
// updates out to subscribers, webhooks, metrics and history.
type hostState struct {
	logger   *zap.Logger
	metrics  *metrics.Metrics
	events   EventSink
	notifier Notifier
	history  *historyWriter

	mu       sync.RWMutex
	printers map[printer.ID]printer.Info
	jobs     map[string]*JobView
	order    []string
	pending  int
	running  bool
	closed   bool
}

var (
	_ core.Host          = (*hostState)(nil)
	_ core.QueueObserver = (*hostState)(nil)
)

func newHostState(logger *zap.Logger, m *metrics.Metrics, events EventSink, notifier Notifier, history JobHistory) *hostState {
	h := &hostState{
		logger:   logger,
		metrics:  m,
		events:   events,
		notifier: notifier,
		printers: make(map[printer.ID]printer.Info),
		jobs:     make(map[string]*JobView),
	}
	if history != nil {
		h.history = newHistoryWriter(history, logger.Named("history"))
	}
	return h
}

func (h *hostState) AddPrinters(infos []printer.Info) {
	h.mu.Lock()
	for _, info := range infos {
		h.printers[info.ID] = info
	}
	h.metrics.PublishedPrinters.Set(float64(len(h.printers)))
	h.mu.Unlock()

	for _, info := range infos {
		h.logger.Debug("printer published", zap.Stringer("printer", info.ID), zap.String("status", string(info.Status)))
		h.publish(Event{Type: EventPrinterAdded, Time: time.Now().UTC(), Printer: &info, PrinterID: info.ID.String()})
		h.notify(webhook.EventPrinterAdded, webhook.PrinterEventData{
			PrinterID: info.ID.String(),
			Name:      info.Name,
			Address:   info.Address,
			Status:    string(info.Status),
		})
	}
}

func (h *hostState) RemovePrinters(ids []printer.ID) {
	h.mu.Lock()
	for _, id := range ids {
		delete(h.printers, id)
	}
	h.metrics.PublishedPrinters.Set(float64(len(h.printers)))
	h.mu.Unlock()

	for _, id := range ids {
		h.logger.Debug("printer unpublished", zap.Stringer("printer", id))
		h.publish(Event{Type: EventPrinterRemoved, Time: time.Now().UTC(), PrinterID: id.String()})
		h.notify(webhook.EventPrinterRemoved, webhook.PrinterEventData{PrinterID: id.String()})
	}
}

// registerJob makes a submitted job visible before the control loop sees it.
func (h *hostState) registerJob(id string, req core.JobRequest, at time.Time) {
	view := &JobView{
		ID:           id,
		PrinterID:    req.PrinterID.String(),
		Name:         req.Name,
		DocumentName: req.Document.Name,
		MimeType:     req.Document.MimeType,
		Copies:       req.Copies,
		SubmittedBy:  req.SubmittedBy,
		State:        core.JobQueued,
		CreatedAt:    at,
		UpdatedAt:    at,
		req:          req,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.jobs[id] = view
	h.order = append(h.order, id)
}

// persistJob writes the history row of a registered job. It runs on the
// control loop ahead of the job's first state change.
func (h *hostState) persistJob(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	view, ok := h.jobs[id]
	if !ok || h.history == nil || h.closed {
		return
	}
	req := view.req
	h.history.create(&db.JobRecord{
		ID:           id,
		PrinterID:    view.PrinterID,
		Name:         req.Name,
		DocumentPath: req.Document.Path,
		DocumentName: req.Document.Name,
		MimeType:     req.Document.MimeType,
		Copies:       req.Copies,
		SubmittedBy:  req.SubmittedBy,
		State:        string(core.JobQueued),
		CreatedAt:    view.CreatedAt,
	})
}

// dropJob forgets a job that never reached the queue.
func (h *hostState) dropJob(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.jobs[id]; !ok {
		return
	}
	delete(h.jobs, id)
	for i, other := range h.order {
		if other == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

func (h *hostState) JobStateChanged(u core.JobUpdate) {
	h.mu.Lock()
	view, ok := h.jobs[u.JobID]
	if !ok {
		h.mu.Unlock()
		h.logger.Warn("update for unknown job", zap.String("job_id", u.JobID))
		return
	}
	view.State = u.State
	view.Reason = u.Reason
	view.UpdatedAt = u.Time
	snapshot := *view
	if h.history != nil && !h.closed {
		h.history.update(u.JobID, string(u.State), u.Reason, u.Time, u.State.Terminal())
	}
	if u.State.Terminal() {
		h.pruneLocked()
	}
	h.mu.Unlock()

	h.publish(Event{Type: EventJobUpdated, Time: u.Time, Job: &snapshot, PrinterID: snapshot.PrinterID})

	data := webhook.JobEventData{JobID: u.JobID, PrinterID: u.PrinterID.String(), State: string(u.State), Reason: u.Reason}
	switch u.State {
	case core.JobStarted:
		h.notify(webhook.EventJobStarted, data)
	case core.JobBlocked:
		h.notify(webhook.EventJobBlocked, data)
	case core.JobCompleted:
		h.notify(webhook.EventJobCompleted, data)
	case core.JobFailed:
		h.notify(webhook.EventJobFailed, data)
	case core.JobCancelled:
		h.notify(webhook.EventJobCancelled, data)
	}
}

func (h *hostState) QueueDepth(pending int, running bool) {
	h.mu.Lock()
	h.pending = pending
	h.running = running
	h.mu.Unlock()

	h.metrics.QueueDepth.Set(float64(pending))
	if running {
		h.metrics.JobsRunning.Set(1)
	} else {
		h.metrics.JobsRunning.Set(0)
	}
}

func (h *hostState) JobFinished(job *core.PrintJob) {
	h.metrics.JobOutcomes.WithLabelValues(string(job.Outcome().State)).Inc()
}

// pruneLocked forgets the oldest finished jobs beyond the retention limit.
// They remain available from history.
func (h *hostState) pruneLocked() {
	finished := 0
	for _, id := range h.order {
		if h.jobs[id].State.Terminal() {
			finished++
		}
	}
	if finished <= maxFinishedJobs {
		return
	}
	kept := h.order[:0]
	for _, id := range h.order {
		if finished > maxFinishedJobs && h.jobs[id].State.Terminal() {
			delete(h.jobs, id)
			finished--
			continue
		}
		kept = append(kept, id)
	}
	h.order = kept
}

func (h *hostState) publish(e Event) {
	if h.events != nil {
		h.events.Publish(e)
	}
}

func (h *hostState) notify(ev webhook.Event, data any) {
	if h.notifier != nil {
		h.notifier.Send(ev, data)
	}
}

func (h *hostState) printerList() []printer.Info {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]printer.Info, 0, len(h.printers))
	for _, info := range h.printers {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (h *hostState) printer(id printer.ID) (printer.Info, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	info, ok := h.printers[id]
	return info, ok
}

// jobList returns jobs oldest first.
func (h *hostState) jobList() []JobView {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]JobView, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, *h.jobs[id])
	}
	return out
}

func (h *hostState) job(id string) (JobView, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.jobs[id]
	if !ok {
		return JobView{}, false
	}
	return *v, true
}

func (h *hostState) queueState() (pending int, running bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.pending, h.running
}

func (h *hostState) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()
	if h.history != nil {
		h.history.close()
	}
}
