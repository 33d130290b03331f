// Package archive enforces the job history retention window.
package archive

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultInterval = 24 * time.Hour

// Purger deletes finished jobs older than before and reports how many went.
type Purger interface {
	PurgeHistory(ctx context.Context, before time.Time) (int, error)
}

// RetentionSource yields the current retention in days. Zero or less keeps
// history forever.
type RetentionSource func(ctx context.Context) int

// Archiver purges expired job history once at start and then on every
// interval.
type Archiver struct {
	purger    Purger
	retention RetentionSource
	interval  time.Duration
	now       func() time.Time
	logger    *zap.Logger

	mu       sync.Mutex
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewArchiver(purger Purger, retention RetentionSource, interval time.Duration, logger *zap.Logger) *Archiver {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Archiver{
		purger:    purger,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		logger:    logger.Named("archive"),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (a *Archiver) Start() {
	go a.runDailyArchive()
}

// Stop waits for a purge in progress to finish. Start must have been called.
func (a *Archiver) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	<-a.done
}

func (a *Archiver) runDailyArchive() {
	defer close(a.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-a.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	a.RunArchive(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.RunArchive(ctx)
		}
	}
}

// RunArchive performs one purge and returns the number of jobs removed.
func (a *Archiver) RunArchive(ctx context.Context) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	days := a.retention(ctx)
	if days <= 0 {
		return 0
	}

	cutoff := a.now().AddDate(0, 0, -days)
	n, err := a.purger.PurgeHistory(ctx, cutoff)
	if err != nil {
		a.logger.Warn("history purge failed", zap.Time("cutoff", cutoff), zap.Error(err))
		return 0
	}
	if n > 0 {
		a.logger.Info("purged expired jobs", zap.Int("jobs", n), zap.Int("retention_days", days))
	}
	return n
}
