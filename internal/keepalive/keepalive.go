// Package keepalive implements the reference-counted network keep-alive held
// while a job is active.
package keepalive

import (
	"sync"

	"go.uber.org/zap"

	"github.com/orrn/netprint/internal/metrics"
)

// Lock is held from the first Acquire until the matching last Release.
type Lock struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	count int
}

func New(logger *zap.Logger, m *metrics.Metrics) *Lock {
	return &Lock{logger: logger.Named("keepalive"), metrics: m}
}

func (l *Lock) Acquire() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count++
	if l.count == 1 {
		l.logger.Debug("keep-alive acquired")
		l.metrics.KeepAliveHeld.Set(1)
	}
}

func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 {
		l.logger.Warn("keep-alive released while not held")
		return
	}
	l.count--
	if l.count == 0 {
		l.logger.Debug("keep-alive released")
		l.metrics.KeepAliveHeld.Set(0)
	}
}

func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count > 0
}
