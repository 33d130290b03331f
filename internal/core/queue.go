package core

import (
	"go.uber.org/zap"

	"github.com/orrn/netprint/internal/loop"
)

// QueueObserver is told about queue depth and terminal outcomes.
type QueueObserver interface {
	QueueDepth(pending int, running bool)
	JobFinished(job *PrintJob)
}

// JobQueue runs at most one PrintJob at a time in FIFO order. All methods run
// on the control loop.
type JobQueue struct {
	exec     loop.Executor
	deps     JobDeps
	logger   *zap.Logger
	observer QueueObserver

	pending []*PrintJob
	current *PrintJob
}

func NewJobQueue(exec loop.Executor, deps JobDeps, observer QueueObserver, logger *zap.Logger) *JobQueue {
	return &JobQueue{
		exec:     exec,
		deps:     deps,
		logger:   logger.Named("queue"),
		observer: observer,
	}
}

// NewJob builds a job bound to the queue's collaborators.
func (q *JobQueue) NewJob(id string, req JobRequest) *PrintJob {
	return NewPrintJob(id, req, q.exec, q.deps, q.logger)
}

func (q *JobQueue) Enqueue(job *PrintJob) {
	q.pending = append(q.pending, job)
	job.notify(JobQueued, "")
	q.logger.Debug("job queued", zap.String("job_id", job.ID()), zap.Int("pending", len(q.pending)))
	q.startNext()
}

// Cancel removes a pending job at once or asks the running job to stop. It
// reports whether the job was known to the queue.
func (q *JobQueue) Cancel(jobID string) bool {
	for i, job := range q.pending {
		if job.ID() != jobID {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		job.cancelPending()
		q.report()
		if q.observer != nil {
			q.observer.JobFinished(job)
		}
		return true
	}
	if q.current != nil && q.current.ID() == jobID {
		q.current.Cancel()
		return true
	}
	return false
}

// CancelAll drops every pending job and cancels the running one.
func (q *JobQueue) CancelAll() {
	pending := q.pending
	q.pending = nil
	for _, job := range pending {
		job.cancelPending()
		if q.observer != nil {
			q.observer.JobFinished(job)
		}
	}
	if q.current != nil {
		q.current.Cancel()
	}
	q.report()
}

func (q *JobQueue) Current() *PrintJob { return q.current }

func (q *JobQueue) Pending() []*PrintJob {
	return append([]*PrintJob(nil), q.pending...)
}

func (q *JobQueue) startNext() {
	if q.current != nil || len(q.pending) == 0 {
		q.report()
		return
	}
	job := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.current = job
	q.report()
	job.Start(q.onJobComplete)
}

// onJobComplete runs inside the finished job's callback; the next job is
// started on a later turn of the loop so that callback fully returns first.
func (q *JobQueue) onJobComplete(job *PrintJob) {
	if q.current == job {
		q.current = nil
	}
	if q.observer != nil {
		q.observer.JobFinished(job)
	}
	q.exec.Post(q.startNext)
}

func (q *JobQueue) report() {
	if q.observer != nil {
		q.observer.QueueDepth(len(q.pending), q.current != nil)
	}
}
