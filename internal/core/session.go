package core

import (
	"context"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/netprint/internal/loop"
	"github.com/orrn/netprint/internal/printer"
)

type SessionConfig struct {
	Discovery Discovery
	Resolver  CapabilityResolver
	Host      Host
	// Store and Services are optional.
	Store    KnownGoodStore
	Services ServicesWatcher

	ExpirationWindow time.Duration
	KnownGoodLimit   int
}

// DiscoverySession owns the printers seen during one discovery lifecycle and
// decides what is published to the host. Every method must be called on the
// control loop.
type DiscoverySession struct {
	exec       loop.Executor
	logger     *zap.Logger
	discovery  Discovery
	resolver   CapabilityResolver
	host       Host
	store      KnownGoodStore
	services   ServicesWatcher
	expiration time.Duration

	listener  *sessionListener
	printers  map[printer.ID]*PrinterRecord
	priority  map[printer.ID]struct{}
	knownGood *knownGoodList
	suppress  *suppressionTable
	published map[printer.ID]printer.Info

	started    bool
	closed     bool
	expireTask loop.Task
	sweepAt    time.Time
	stopWatch  func()
}

func NewDiscoverySession(exec loop.Executor, cfg SessionConfig, logger *zap.Logger) *DiscoverySession {
	if cfg.ExpirationWindow <= 0 {
		cfg.ExpirationWindow = DefaultExpirationWindow
	}
	s := &DiscoverySession{
		exec:       exec,
		logger:     logger.Named("session"),
		discovery:  cfg.Discovery,
		resolver:   cfg.Resolver,
		host:       cfg.Host,
		store:      cfg.Store,
		services:   cfg.Services,
		expiration: cfg.ExpirationWindow,
		printers:   make(map[printer.ID]*PrinterRecord),
		priority:   make(map[printer.ID]struct{}),
		knownGood:  newKnownGoodList(cfg.KnownGoodLimit),
		suppress:   newSuppressionTable(),
		published:  make(map[printer.ID]printer.Info),
	}
	s.listener = &sessionListener{s: s}
	return s
}

// LoadKnownGood restores the persisted known-good list. It performs I/O and
// should run before the session is handed to the control loop.
func (s *DiscoverySession) LoadKnownGood(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	ids, err := s.store.LoadKnownGood(ctx)
	if err != nil {
		return err
	}
	if skipped := s.knownGood.load(ids); skipped > 0 {
		s.logger.Warn("ignored invalid known-good entries", zap.Int("skipped", skipped))
	}
	s.logger.Info("loaded known-good printers", zap.Int("count", len(s.knownGood.ids)))
	return nil
}

// KnownGood returns the current list, most recent first.
func (s *DiscoverySession) KnownGood() []string {
	return s.knownGood.strings()
}

func (s *DiscoverySession) Started() bool { return s.started }

// Record returns the tracked record for id.
func (s *DiscoverySession) Record(id printer.ID) (*PrinterRecord, bool) {
	r, ok := s.printers[id]
	return r, ok
}

// StartDiscovery resets the priority set, forces every tracked printer to
// announce itself again and (re)starts the discovery provider.
func (s *DiscoverySession) StartDiscovery(priority []printer.ID) {
	if s.closed {
		return
	}
	s.priority = make(map[printer.ID]struct{}, len(priority))
	for _, id := range priority {
		s.priority[id] = struct{}{}
	}

	for _, r := range s.printers {
		r.markNotFound()
	}
	s.republishAll()
	if len(s.printers) > 0 {
		s.scheduleSweep()
	}

	if s.started {
		s.discovery.Stop(s.listener)
	}
	s.started = true
	s.discovery.Start(s.listener)

	if s.services != nil && s.stopWatch == nil {
		s.stopWatch = s.services.Watch(func(list []OtherService) {
			s.exec.Post(func() { s.onServicesChanged(list) })
		})
	}
	s.logger.Info("discovery started", zap.Int("priority", len(priority)))
}

func (s *DiscoverySession) StopDiscovery() {
	if !s.started {
		return
	}
	s.started = false
	s.discovery.Stop(s.listener)
	s.cancelSweep()
	if s.stopWatch != nil {
		s.stopWatch()
		s.stopWatch = nil
	}
	s.logger.Info("discovery stopped")
}

func (s *DiscoverySession) StartTracking(id printer.ID) {
	if s.closed {
		return
	}
	s.priority[id] = struct{}{}
	if r, ok := s.printers[id]; ok {
		r.track()
	}
}

func (s *DiscoverySession) StopTracking(id printer.ID) {
	delete(s.priority, id)
}

// Close stops discovery, persists the known-good list and forgets every
// record. Calling it again is a no-op.
func (s *DiscoverySession) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.StopDiscovery()
	s.closed = true
	s.printers = make(map[printer.ID]*PrinterRecord)
	s.published = make(map[printer.ID]printer.Info)

	if s.store == nil {
		return nil
	}
	return s.store.SaveKnownGood(ctx, s.knownGood.strings())
}

func (s *DiscoverySession) isPriority(id printer.ID) bool {
	_, ok := s.priority[id]
	return ok
}

func (s *DiscoverySession) onPrinterFound(d printer.Descriptor) {
	if !s.started || s.closed || d.ID.IsZero() {
		return
	}
	r, ok := s.printers[d.ID]
	if !ok {
		r = newPrinterRecord(s, d)
		s.printers[d.ID] = r
		s.logger.Debug("printer found", zap.Stringer("printer", d.ID), zap.String("address", d.Address))
	}
	r.markFound(d)
}

func (s *DiscoverySession) onPrinterLost(d printer.Descriptor) {
	if !s.started || s.closed {
		return
	}
	r, ok := s.printers[d.ID]
	if !ok {
		return
	}
	r.markNotFound()
	if !d.ID.IsStable() {
		// An address may be reused by a different device before it returns.
		s.resolver.Evict(r.desc)
	}
	s.handlePrinter(r)
	s.scheduleSweep()
}

func (s *DiscoverySession) onServicesChanged(list []OtherService) {
	if s.closed {
		return
	}
	s.suppress.rebuild(list)
	s.republishAll()
}

// handlePrinter reconciles what the host sees for one record.
func (s *DiscoverySession) handlePrinter(r *PrinterRecord) {
	id := r.desc.ID
	if s.suppress.hidden(r.desc.Host()) {
		s.unpublish(id)
		return
	}
	info, ok := r.publishableInfo(s.knownGood.contains(id))
	if !ok {
		s.unpublish(id)
		return
	}
	if info.Status == printer.StatusIdle {
		s.knownGood.push(id)
	}
	s.publish(info)
}

func (s *DiscoverySession) republishAll() {
	for _, r := range s.printers {
		s.handlePrinter(r)
	}
	for id := range s.published {
		if _, ok := s.printers[id]; !ok {
			s.unpublish(id)
		}
	}
}

func (s *DiscoverySession) publish(info printer.Info) {
	if prev, ok := s.published[info.ID]; ok && reflect.DeepEqual(prev, info) {
		return
	}
	s.published[info.ID] = info
	s.host.AddPrinters([]printer.Info{info})
}

func (s *DiscoverySession) unpublish(id printer.ID) {
	if _, ok := s.published[id]; !ok {
		return
	}
	delete(s.published, id)
	s.host.RemovePrinters([]printer.ID{id})
}

func (s *DiscoverySession) removeRecord(r *PrinterRecord) {
	delete(s.printers, r.desc.ID)
	s.unpublish(r.desc.ID)
}

// scheduleSweep arms the sweep for the earliest expiry among missing
// records. A sweep already armed for that time or sooner is left alone.
func (s *DiscoverySession) scheduleSweep() {
	var next time.Time
	for _, r := range s.printers {
		if r.found {
			continue
		}
		if at := r.lastSeen.Add(s.expiration); next.IsZero() || at.Before(next) {
			next = at
		}
	}
	if next.IsZero() {
		s.cancelSweep()
		return
	}
	if s.expireTask != nil && !s.sweepAt.After(next) {
		return
	}
	s.cancelSweep()
	s.sweepAt = next
	s.expireTask = s.exec.AfterFunc(next.Sub(s.exec.Now()), s.sweep)
}

func (s *DiscoverySession) cancelSweep() {
	if s.expireTask != nil {
		s.expireTask.Cancel()
		s.expireTask = nil
	}
}

// sweep drops expired records and re-arms only while something is still
// missing.
func (s *DiscoverySession) sweep() {
	s.expireTask = nil
	now := s.exec.Now()

	var removed []printer.ID
	missing := false
	for id, r := range s.printers {
		if r.isExpired(now) {
			delete(s.printers, id)
			if _, ok := s.published[id]; ok {
				delete(s.published, id)
				removed = append(removed, id)
			}
			continue
		}
		if !r.found {
			missing = true
		}
	}
	if len(removed) > 0 {
		s.logger.Debug("expired printers", zap.Int("count", len(removed)))
		s.host.RemovePrinters(removed)
	}
	if missing && s.started {
		s.scheduleSweep()
	}
}

// sessionListener moves discovery callbacks onto the control loop.
type sessionListener struct {
	s *DiscoverySession
}

func (l *sessionListener) OnPrinterFound(d printer.Descriptor) {
	l.s.exec.Post(func() { l.s.onPrinterFound(d) })
}

func (l *sessionListener) OnPrinterLost(d printer.Descriptor) {
	l.s.exec.Post(func() { l.s.onPrinterLost(d) })
}
