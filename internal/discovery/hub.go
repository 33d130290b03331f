// Package discovery finds printers on the network and fans the results out
// to every interested listener.
package discovery

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/orrn/netprint/internal/core"
	"github.com/orrn/netprint/internal/metrics"
	"github.com/orrn/netprint/internal/printer"
)

// Sink receives what a source sees. Calls from one source are sequential.
type Sink interface {
	Found(d printer.Descriptor)
	Lost(d printer.Descriptor)
}

// Source runs until ctx is cancelled.
type Source interface {
	Name() string
	Run(ctx context.Context, sink Sink)
}

// Hub implements core.Discovery. Sources run only while at least one
// listener is registered; a new listener is first told about every printer
// already known.
type Hub struct {
	sources []Source
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	listeners map[core.DiscoveryListener]struct{}
	known     map[printer.ID]printer.Descriptor
	gen       uint64
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

var _ core.Discovery = (*Hub)(nil)

func NewHub(logger *zap.Logger, m *metrics.Metrics, sources ...Source) *Hub {
	return &Hub{
		sources:   sources,
		logger:    logger.Named("discovery"),
		metrics:   m,
		listeners: make(map[core.DiscoveryListener]struct{}),
		known:     make(map[printer.ID]printer.Descriptor),
	}
}

func (h *Hub) Start(l core.DiscoveryListener) {
	h.mu.Lock()
	if _, ok := h.listeners[l]; ok {
		h.mu.Unlock()
		return
	}
	h.listeners[l] = struct{}{}
	if h.cancel == nil {
		h.startSourcesLocked()
	}
	replay := make([]printer.Descriptor, 0, len(h.known))
	for _, d := range h.known {
		replay = append(replay, d)
	}
	h.mu.Unlock()

	for _, d := range replay {
		l.OnPrinterFound(d)
	}
}

func (h *Hub) Stop(l core.DiscoveryListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.listeners[l]; !ok {
		return
	}
	delete(h.listeners, l)
	if len(h.listeners) == 0 && h.cancel != nil {
		h.cancel()
		h.cancel = nil
		h.gen++
		h.known = make(map[printer.ID]printer.Descriptor)
		h.logger.Info("discovery sources stopped")
	}
}

// Known returns the printers currently reported by the sources.
func (h *Hub) Known() []printer.Descriptor {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]printer.Descriptor, 0, len(h.known))
	for _, d := range h.known {
		out = append(out, d)
	}
	return out
}

// Close stops every source and waits for them to return.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
		h.gen++
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) startSourcesLocked() {
	h.gen++
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	for _, src := range h.sources {
		sink := &hubSink{hub: h, gen: h.gen, source: src.Name()}
		h.wg.Add(1)
		go func(src Source) {
			defer h.wg.Done()
			src.Run(ctx, sink)
		}(src)
	}
	h.logger.Info("discovery sources started", zap.Int("sources", len(h.sources)))
}

func (h *Hub) snapshotLocked() []core.DiscoveryListener {
	out := make([]core.DiscoveryListener, 0, len(h.listeners))
	for l := range h.listeners {
		out = append(out, l)
	}
	return out
}

// hubSink drops events from sources belonging to an earlier start.
type hubSink struct {
	hub    *Hub
	gen    uint64
	source string
}

func (s *hubSink) Found(d printer.Descriptor) {
	h := s.hub
	h.mu.Lock()
	if s.gen != h.gen || d.ID.IsZero() {
		h.mu.Unlock()
		return
	}
	h.known[d.ID] = d
	listeners := h.snapshotLocked()
	h.mu.Unlock()

	h.metrics.DiscoveryEvents.WithLabelValues(s.source, "found").Inc()
	h.logger.Debug("printer found", zap.String("source", s.source), zap.Stringer("printer", d.ID), zap.String("address", d.Address))
	for _, l := range listeners {
		l.OnPrinterFound(d)
	}
}

func (s *hubSink) Lost(d printer.Descriptor) {
	h := s.hub
	h.mu.Lock()
	if s.gen != h.gen {
		h.mu.Unlock()
		return
	}
	if _, ok := h.known[d.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.known, d.ID)
	listeners := h.snapshotLocked()
	h.mu.Unlock()

	h.metrics.DiscoveryEvents.WithLabelValues(s.source, "lost").Inc()
	h.logger.Debug("printer lost", zap.String("source", s.source), zap.Stringer("printer", d.ID))
	for _, l := range listeners {
		l.OnPrinterLost(d)
	}
}
