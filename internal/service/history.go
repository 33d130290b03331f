package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/netprint/internal/db"
)

// JobHistory is where terminal and intermediate job states are recorded.
type JobHistory interface {
	CreateJob(ctx context.Context, j *db.JobRecord) error
	UpdateJobState(ctx context.Context, id, state, reason string, at time.Time, finished bool) error
	GetJob(ctx context.Context, id string) (*db.JobRecord, error)
	ListJobs(ctx context.Context, filter db.JobFilter) ([]*db.JobRecord, error)
	PurgeJobs(ctx context.Context, before time.Time) ([]string, error)
}

const historyQueueSize = 256

// historyWriter applies writes in order on its own goroutine so the control
// loop never waits on the database.
type historyWriter struct {
	history JobHistory
	logger  *zap.Logger
	ops     chan func(ctx context.Context) error
	done    chan struct{}
}

func newHistoryWriter(h JobHistory, logger *zap.Logger) *historyWriter {
	w := &historyWriter{
		history: h,
		logger:  logger,
		ops:     make(chan func(ctx context.Context) error, historyQueueSize),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *historyWriter) run() {
	defer close(w.done)
	for op := range w.ops {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := op(ctx); err != nil {
			w.logger.Warn("failed to record job history", zap.Error(err))
		}
		cancel()
	}
}

// submit must not be called after close.
func (w *historyWriter) submit(op func(ctx context.Context) error) {
	select {
	case w.ops <- op:
	default:
		w.logger.Warn("history queue full, dropping write")
	}
}

func (w *historyWriter) create(j *db.JobRecord) {
	w.submit(func(ctx context.Context) error { return w.history.CreateJob(ctx, j) })
}

func (w *historyWriter) update(id, state, reason string, at time.Time, finished bool) {
	w.submit(func(ctx context.Context) error {
		return w.history.UpdateJobState(ctx, id, state, reason, at, finished)
	})
}

// close waits for queued writes to finish.
func (w *historyWriter) close() {
	close(w.ops)
	<-w.done
}
