package core

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/netprint/internal/loop"
	"github.com/orrn/netprint/internal/printer"
)

const DefaultDiscoveryTimeout = 30 * time.Second

type PrintJobState int

const (
	StateInit PrintJobState = iota
	StateDiscovery
	StateDelivering
	StateCancel
	StateDone
)

func (s PrintJobState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateDiscovery:
		return "discovery"
	case StateDelivering:
		return "delivering"
	case StateCancel:
		return "cancel"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// JobDeps are the collaborators a PrintJob drives.
type JobDeps struct {
	Discovery Discovery
	Resolver  CapabilityResolver
	Backend   Backend
	Host      Host
	KeepAlive KeepAlive

	DiscoveryTimeout time.Duration
}

// PrintJob walks one request through discovery, capability resolution and
// delivery. All methods run on the control loop.
type PrintJob struct {
	id     string
	req    JobRequest
	exec   loop.Executor
	deps   JobDeps
	logger *zap.Logger

	state      PrintJobState
	desc       printer.Descriptor
	caps       printer.Capabilities
	requested  bool
	delivering bool
	cancelled  bool
	timer      loop.Task
	listener   *jobListener
	onComplete func(*PrintJob)
	outcome    Outcome
}

func NewPrintJob(id string, req JobRequest, exec loop.Executor, deps JobDeps, logger *zap.Logger) *PrintJob {
	if deps.DiscoveryTimeout <= 0 {
		deps.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	j := &PrintJob{
		id:     id,
		req:    req,
		exec:   exec,
		deps:   deps,
		logger: logger.With(zap.String("job_id", id), zap.Stringer("printer", req.PrinterID)),
	}
	j.listener = &jobListener{j: j}
	return j
}

func (j *PrintJob) ID() string                     { return j.id }
func (j *PrintJob) Request() JobRequest            { return j.req }
func (j *PrintJob) State() PrintJobState           { return j.state }
func (j *PrintJob) Outcome() Outcome               { return j.outcome }
func (j *PrintJob) PrinterID() printer.ID          { return j.req.PrinterID }
func (j *PrintJob) Descriptor() printer.Descriptor { return j.desc }

// Start begins discovery for the target printer. It is only valid from
// StateInit.
func (j *PrintJob) Start(onComplete func(*PrintJob)) {
	if j.state != StateInit {
		j.logger.Warn("start ignored", zap.Stringer("state", j.state))
		return
	}
	j.state = StateDiscovery
	j.onComplete = onComplete
	if j.deps.KeepAlive != nil {
		j.deps.KeepAlive.Acquire()
	}
	j.notify(JobStarted, "")
	j.deps.Discovery.Start(j.listener)
	j.timer = j.exec.AfterFunc(j.deps.DiscoveryTimeout, j.onDiscoveryTimeout)
	j.logger.Info("job started")
}

// Cancel requests cancellation. During discovery the job finishes at once;
// during delivery the backend is asked to stop and reports back later.
func (j *PrintJob) Cancel() {
	switch j.state {
	case StateDiscovery:
		if !j.requested {
			j.deps.Discovery.Stop(j.listener)
		}
		j.cancelled = true
		j.finish(false, nil)
	case StateDelivering:
		j.state = StateCancel
		j.deps.Backend.Cancel()
	default:
		j.logger.Debug("cancel ignored", zap.Stringer("state", j.state))
	}
}

// cancelPending ends a job that never started. Nothing was acquired, so only
// the outcome is recorded.
func (j *PrintJob) cancelPending() {
	if j.state != StateInit {
		return
	}
	j.state = StateDone
	j.outcome = Outcome{State: JobCancelled, At: j.exec.Now()}
	j.notify(JobCancelled, "")
}

func (j *PrintJob) onPrinterFound(d printer.Descriptor) {
	if j.state != StateDiscovery || j.requested || d.ID != j.req.PrinterID {
		return
	}
	j.requested = true
	j.desc = d
	j.deps.Discovery.Stop(j.listener)
	j.deps.Resolver.Request(d, true, func(_ printer.Descriptor, caps printer.Capabilities, ok bool) {
		j.exec.Post(func() { j.onCapabilities(caps, ok) })
	})
}

func (j *PrintJob) onDiscoveryTimeout() {
	j.timer = nil
	if j.state != StateDiscovery {
		return
	}
	if !j.requested {
		j.deps.Discovery.Stop(j.listener)
	}
	j.logger.Info("printer not found before timeout")
	j.finish(false, ErrPrinterOffline)
}

func (j *PrintJob) onCapabilities(caps printer.Capabilities, ok bool) {
	if j.state != StateDiscovery {
		return
	}
	if !ok {
		j.finish(false, ErrPrinterOffline)
		return
	}
	j.cancelTimer()
	j.caps = caps
	j.state = StateDelivering
	j.delivering = true

	spec := JobSpec{ID: j.id, Name: j.req.Name, Document: j.req.Document, Copies: j.req.Copies}
	err := j.deps.Backend.Print(j.desc, spec, caps, func(st BackendStatus) {
		j.exec.Post(func() { j.onBackendStatus(st) })
	})
	if err != nil {
		j.finish(false, fmt.Errorf("%w: %w", ErrPrintFailed, err))
	}
}

func (j *PrintJob) onBackendStatus(st BackendStatus) {
	if j.state != StateDelivering && j.state != StateCancel {
		return
	}
	switch st.State {
	case BackendDone:
		switch {
		case j.state == StateCancel:
			j.finish(false, nil)
		case st.Result == ResultOK:
			j.finish(true, nil)
		case st.Result == ResultCancelled:
			j.state = StateCancel
			j.finish(false, nil)
		case st.Result == ResultCorrupt:
			j.finish(false, ErrUnreadableInput)
		default:
			err := ErrPrintFailed
			if st.Err != nil {
				err = fmt.Errorf("%w: %w", ErrPrintFailed, st.Err)
			}
			j.finish(false, err)
		}
	case BackendBlocked:
		j.notify(JobBlocked, st.Blocked.String())
	case BackendRunning:
		if j.state == StateCancel {
			return
		}
		j.notify(JobRunning, "")
	}
}

// finish is the single exit point of a started job.
func (j *PrintJob) finish(success bool, err error) {
	if j.state == StateDone {
		return
	}
	if j.deps.KeepAlive != nil {
		j.deps.KeepAlive.Release()
	}
	if j.delivering {
		j.deps.Backend.CloseDocument()
	}
	j.cancelTimer()

	now := j.exec.Now()
	switch {
	case success:
		j.outcome = Outcome{State: JobCompleted, At: now}
	case j.state == StateCancel || j.cancelled:
		j.outcome = Outcome{State: JobCancelled, At: now}
	default:
		if err == nil {
			err = ErrPrintFailed
		}
		j.outcome = Outcome{State: JobFailed, Err: err, Reason: failureReason(err), At: now}
	}
	j.state = StateDone
	j.notify(j.outcome.State, j.outcome.Reason)
	j.logger.Info("job finished", zap.String("state", string(j.outcome.State)), zap.Error(j.outcome.Err))

	if cb := j.onComplete; cb != nil {
		j.onComplete = nil
		cb(j)
	}
}

func (j *PrintJob) cancelTimer() {
	if j.timer != nil {
		j.timer.Cancel()
		j.timer = nil
	}
}

func (j *PrintJob) notify(state JobState, reason string) {
	if j.deps.Host == nil {
		return
	}
	j.deps.Host.JobStateChanged(JobUpdate{
		JobID:     j.id,
		PrinterID: j.req.PrinterID,
		State:     state,
		Reason:    reason,
		Time:      j.exec.Now(),
	})
}

// failureReason is the message the host shows for a failed job.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrPrinterOffline):
		return ErrPrinterOffline.Error()
	case errors.Is(err, ErrUnreadableInput):
		return ErrUnreadableInput.Error()
	}
	return err.Error()
}

type jobListener struct {
	j *PrintJob
}

func (l *jobListener) OnPrinterFound(d printer.Descriptor) {
	l.j.exec.Post(func() { l.j.onPrinterFound(d) })
}

func (l *jobListener) OnPrinterLost(printer.Descriptor) {}
