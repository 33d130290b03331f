package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/netprint/internal/printer"
)

var (
	printerX = descriptor("X", "10.0.0.30:631", "XXX")
	printerY = descriptor("Y", "10.0.0.31:631", "YYY")
)

// deliver drives the current job up to the backend.
func (f *jobFixture) deliver(t *testing.T, d printer.Descriptor) {
	t.Helper()
	n := len(f.resolver.requests)
	f.disc.found(d)
	require.Len(t, f.resolver.requests, n+1)
	f.resolver.resolve(n, supportedCaps, true)
	require.NotEmpty(t, f.backend.calls)
}

func TestScenarioJobCompletes(t *testing.T) {
	f := newJobFixture()
	job := f.enqueue("j1", printerX.ID)

	assert.Equal(t, StateDiscovery, job.State())
	assert.Equal(t, 1, f.keepAlive.held)
	assert.Len(t, f.disc.listeners, 1)

	f.disc.found(printerX)
	assert.Empty(t, f.disc.listeners, "job stops listening once its printer is found")
	require.Len(t, f.resolver.requests, 1)
	assert.True(t, f.resolver.requests[0].priority)

	f.resolver.resolve(0, supportedCaps, true)
	assert.Equal(t, StateDelivering, job.State())
	require.Len(t, f.backend.calls, 1)
	assert.Equal(t, "j1", f.backend.calls[0].job.ID)
	assert.Equal(t, "/tmp/j1.pdf", f.backend.calls[0].job.Document.Path)
	assert.Equal(t, printerX.Address, f.backend.calls[0].desc.Address)

	f.backend.status(BackendStatus{State: BackendRunning})
	f.backend.status(BackendStatus{State: BackendDone, Result: ResultOK})

	assert.Equal(t, StateDone, job.State())
	assert.Equal(t, JobCompleted, job.Outcome().State)
	assert.NoError(t, job.Outcome().Err)
	assert.Zero(t, f.keepAlive.held)
	assert.Equal(t, 1, f.keepAlive.releases)
	assert.Equal(t, 1, f.backend.closes)
	assert.Nil(t, f.queue.Current())
	assert.Empty(t, f.queue.Pending())
	assert.Zero(t, f.m.PendingTimers())
	assert.Equal(t, []JobState{JobQueued, JobStarted, JobRunning, JobCompleted}, f.host.states("j1"))
}

func TestScenarioPrinterNeverAppears(t *testing.T) {
	f := newJobFixture()
	job := f.enqueue("j1", printerY.ID)

	f.m.Advance(DefaultDiscoveryTimeout - time.Millisecond)
	assert.Equal(t, StateDiscovery, job.State())

	f.m.Advance(time.Millisecond)
	assert.Equal(t, StateDone, job.State())
	assert.Equal(t, JobFailed, job.Outcome().State)
	assert.ErrorIs(t, job.Outcome().Err, ErrPrinterOffline)
	assert.Equal(t, "printer offline", job.Outcome().Reason)
	assert.Empty(t, f.disc.listeners)
	assert.Zero(t, f.keepAlive.held)
	assert.Nil(t, f.queue.Current())
	assert.Len(t, f.finished, 1)
	assert.Empty(t, f.backend.calls)
}

func TestScenarioNextJobWaitsForCompletion(t *testing.T) {
	f := newJobFixture()
	j1 := f.enqueue("j1", printerX.ID)
	j2 := f.enqueue("j2", printerY.ID)

	assert.Equal(t, StateInit, j2.State())
	assert.Equal(t, []JobState{JobQueued}, f.host.states("j2"))

	var j2StateDuringCallback PrintJobState = -1
	f.onFinished = func(job *PrintJob) {
		if job == j1 {
			j2StateDuringCallback = j2.State()
		}
	}

	f.deliver(t, printerX)
	f.backend.status(BackendStatus{State: BackendDone, Result: ResultOK})

	assert.Equal(t, StateInit, j2StateDuringCallback)
	assert.Equal(t, JobCompleted, j1.Outcome().State)
	assert.Equal(t, StateDiscovery, j2.State())
	assert.Same(t, j2, f.queue.Current())
	assert.Equal(t, 1, f.keepAlive.maxHeld, "jobs never overlap")
}

func TestCancelPendingJob(t *testing.T) {
	f := newJobFixture()
	f.enqueue("j1", printerX.ID)
	j2 := f.enqueue("j2", printerY.ID)

	var ok bool
	on(f.m, func() { ok = f.queue.Cancel("j2") })
	require.True(t, ok)

	assert.Equal(t, JobCancelled, j2.Outcome().State)
	assert.Equal(t, []JobState{JobQueued, JobCancelled}, f.host.states("j2"))
	assert.Empty(t, f.queue.Pending())
	assert.Equal(t, 1, f.keepAlive.acquires)
	assert.Equal(t, 1, f.disc.starts)
	assert.Equal(t, StateDiscovery, f.queue.Current().State(), "running job is untouched")

	on(f.m, func() { ok = f.queue.Cancel("missing") })
	assert.False(t, ok)
}

func TestCancelDuringDiscovery(t *testing.T) {
	f := newJobFixture()
	j1 := f.enqueue("j1", printerX.ID)
	j2 := f.enqueue("j2", printerY.ID)

	on(f.m, func() { f.queue.Cancel("j1") })

	assert.Equal(t, JobCancelled, j1.Outcome().State)
	assert.NoError(t, j1.Outcome().Err)
	assert.Equal(t, StateDiscovery, j2.State())
	assert.Equal(t, 1, f.keepAlive.held)
	assert.Equal(t, 1, f.keepAlive.releases)
	assert.Empty(t, f.backend.calls)
}

func TestCancelDuringDelivery(t *testing.T) {
	f := newJobFixture()
	job := f.enqueue("j1", printerX.ID)
	f.deliver(t, printerX)

	on(f.m, func() { f.queue.Cancel("j1") })
	assert.Equal(t, StateCancel, job.State())
	assert.Equal(t, 1, f.backend.cancels)
	assert.Equal(t, 1, f.keepAlive.held, "delivery cancel completes asynchronously")

	f.backend.status(BackendStatus{State: BackendRunning})
	f.backend.status(BackendStatus{State: BackendDone, Result: ResultError, Err: errors.New("socket closed")})

	assert.Equal(t, JobCancelled, job.Outcome().State)
	assert.NoError(t, job.Outcome().Err)
	assert.Equal(t, []JobState{JobQueued, JobStarted, JobCancelled}, f.host.states("j1"))
	assert.Zero(t, f.keepAlive.held)
	assert.Equal(t, 1, f.backend.closes)
}

func TestBackendOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		status  BackendStatus
		state   JobState
		wantErr error
		reason  string
	}{
		{
			name:   "backend cancelled",
			status: BackendStatus{State: BackendDone, Result: ResultCancelled},
			state:  JobCancelled,
		},
		{
			name:    "corrupt document",
			status:  BackendStatus{State: BackendDone, Result: ResultCorrupt},
			state:   JobFailed,
			wantErr: ErrUnreadableInput,
			reason:  "unreadable input",
		},
		{
			name:    "backend error",
			status:  BackendStatus{State: BackendDone, Result: ResultError, Err: errors.New("connection reset")},
			state:   JobFailed,
			wantErr: ErrPrintFailed,
			reason:  "print failed: connection reset",
		},
		{
			name:    "generic failure",
			status:  BackendStatus{State: BackendDone, Result: ResultError},
			state:   JobFailed,
			wantErr: ErrPrintFailed,
			reason:  "print failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newJobFixture()
			job := f.enqueue("j1", printerX.ID)
			f.deliver(t, printerX)
			f.backend.status(tt.status)

			assert.Equal(t, tt.state, job.Outcome().State)
			assert.Equal(t, tt.reason, job.Outcome().Reason)
			if tt.wantErr != nil {
				assert.ErrorIs(t, job.Outcome().Err, tt.wantErr)
			} else {
				assert.NoError(t, job.Outcome().Err)
			}
			assert.Zero(t, f.keepAlive.held)
		})
	}
}

func TestBlockedStatusIsForwarded(t *testing.T) {
	f := newJobFixture()
	job := f.enqueue("j1", printerX.ID)
	f.deliver(t, printerX)

	f.backend.status(BackendStatus{State: BackendBlocked, Blocked: BlockedOutOfPaper | BlockedJammed})
	require.Equal(t, JobBlocked, f.host.updates[len(f.host.updates)-1].State)
	assert.Equal(t, "out of paper, paper jammed", f.host.updates[len(f.host.updates)-1].Reason)
	assert.Equal(t, StateDelivering, job.State())

	f.backend.status(BackendStatus{State: BackendRunning})
	assert.Equal(t, JobRunning, f.host.updates[len(f.host.updates)-1].State)
}

func TestCapabilityFailureMeansOffline(t *testing.T) {
	f := newJobFixture()
	job := f.enqueue("j1", printerX.ID)

	f.disc.found(printerX)
	f.resolver.resolve(0, printer.Capabilities{}, false)

	assert.ErrorIs(t, job.Outcome().Err, ErrPrinterOffline)
	assert.Empty(t, f.backend.calls)
	assert.Zero(t, f.m.PendingTimers())
}

func TestPrintErrorFailsJob(t *testing.T) {
	f := newJobFixture()
	f.backend.err = errors.New("no route to host")
	job := f.enqueue("j1", printerX.ID)

	f.disc.found(printerX)
	f.resolver.resolve(0, supportedCaps, true)

	assert.Equal(t, JobFailed, job.Outcome().State)
	assert.ErrorIs(t, job.Outcome().Err, ErrPrintFailed)
	assert.Zero(t, f.keepAlive.held)
}

func TestStaleCallbacksAreIgnored(t *testing.T) {
	f := newJobFixture()
	job := f.enqueue("j1", printerX.ID)

	f.disc.found(printerY)
	assert.Empty(t, f.resolver.requests, "other printers are ignored")

	f.disc.found(printerX)
	f.m.Advance(DefaultDiscoveryTimeout)
	require.Equal(t, JobFailed, job.Outcome().State)

	f.resolver.resolve(0, supportedCaps, true)
	assert.Empty(t, f.backend.calls)
	assert.Equal(t, 1, f.keepAlive.releases)
	assert.Len(t, f.finished, 1)
}

func TestStartOutsideInitIsIgnored(t *testing.T) {
	f := newJobFixture()
	job := f.enqueue("j1", printerX.ID)

	called := false
	on(f.m, func() { job.Start(func(*PrintJob) { called = true }) })

	assert.Equal(t, 1, f.keepAlive.acquires)
	assert.Equal(t, 1, f.disc.starts)

	on(f.m, func() { f.queue.Cancel("j1") })
	assert.False(t, called)
	assert.Len(t, f.finished, 1)
}

func TestBlockedReasonString(t *testing.T) {
	assert.Equal(t, "printer error", BlockedReason(0).String())
	assert.Equal(t, "printer is offline", BlockedOffline.String())
	assert.Equal(t, "out of toner, door open", (BlockedDoorOpen | BlockedOutOfToner).String())
}
