package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/netprint/internal/loop"
	"github.com/orrn/netprint/internal/printer"
)

type fakeDiscovery struct {
	listeners map[DiscoveryListener]struct{}
	starts    int
	stops     int
}

func newFakeDiscovery() *fakeDiscovery {
	return &fakeDiscovery{listeners: make(map[DiscoveryListener]struct{})}
}

func (d *fakeDiscovery) Start(l DiscoveryListener) {
	d.starts++
	d.listeners[l] = struct{}{}
}

func (d *fakeDiscovery) Stop(l DiscoveryListener) {
	d.stops++
	delete(d.listeners, l)
}

func (d *fakeDiscovery) found(desc printer.Descriptor) {
	for l := range d.listeners {
		l.OnPrinterFound(desc)
	}
}

func (d *fakeDiscovery) lost(desc printer.Descriptor) {
	for l := range d.listeners {
		l.OnPrinterLost(desc)
	}
}

type capRequest struct {
	desc     printer.Descriptor
	priority bool
	cb       CapabilityCallback
}

type fakeResolver struct {
	cache    map[string]printer.Capabilities
	requests []capRequest
	evicted  []string
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{cache: make(map[string]printer.Capabilities)}
}

func (r *fakeResolver) Cached(d printer.Descriptor) (printer.Capabilities, bool) {
	caps, ok := r.cache[d.Address]
	return caps, ok
}

func (r *fakeResolver) Request(d printer.Descriptor, priority bool, cb CapabilityCallback) {
	r.requests = append(r.requests, capRequest{desc: d, priority: priority, cb: cb})
}

func (r *fakeResolver) Evict(d printer.Descriptor) {
	r.evicted = append(r.evicted, d.Address)
	delete(r.cache, d.Address)
}

// resolve answers request i, caching successful profiles the way the real
// cache does.
func (r *fakeResolver) resolve(i int, caps printer.Capabilities, ok bool) {
	req := r.requests[i]
	if ok {
		r.cache[req.desc.Address] = caps
	}
	req.cb(req.desc, caps, ok)
}

type printCall struct {
	desc     printer.Descriptor
	job      JobSpec
	caps     printer.Capabilities
	onStatus func(BackendStatus)
}

type fakeBackend struct {
	calls   []printCall
	err     error
	cancels int
	closes  int
}

func (b *fakeBackend) Print(d printer.Descriptor, job JobSpec, caps printer.Capabilities, onStatus func(BackendStatus)) error {
	if b.err != nil {
		return b.err
	}
	b.calls = append(b.calls, printCall{desc: d, job: job, caps: caps, onStatus: onStatus})
	return nil
}

func (b *fakeBackend) Cancel()        { b.cancels++ }
func (b *fakeBackend) CloseDocument() { b.closes++ }

func (b *fakeBackend) status(st BackendStatus) {
	b.calls[len(b.calls)-1].onStatus(st)
}

type fakeHost struct {
	added     []printer.Info
	removed   []printer.ID
	updates   []JobUpdate
	published map[printer.ID]printer.Info
	onUpdate  func(JobUpdate)
}

func newFakeHost() *fakeHost {
	return &fakeHost{published: make(map[printer.ID]printer.Info)}
}

func (h *fakeHost) AddPrinters(infos []printer.Info) {
	h.added = append(h.added, infos...)
	for _, info := range infos {
		h.published[info.ID] = info
	}
}

func (h *fakeHost) RemovePrinters(ids []printer.ID) {
	h.removed = append(h.removed, ids...)
	for _, id := range ids {
		delete(h.published, id)
	}
}

func (h *fakeHost) JobStateChanged(u JobUpdate) {
	h.updates = append(h.updates, u)
	if h.onUpdate != nil {
		h.onUpdate(u)
	}
}

func (h *fakeHost) states(jobID string) []JobState {
	var out []JobState
	for _, u := range h.updates {
		if u.JobID == jobID {
			out = append(out, u.State)
		}
	}
	return out
}

func (h *fakeHost) removedCount(id printer.ID) int {
	n := 0
	for _, r := range h.removed {
		if r == id {
			n++
		}
	}
	return n
}

type fakeKeepAlive struct {
	held     int
	maxHeld  int
	acquires int
	releases int
}

func (k *fakeKeepAlive) Acquire() {
	k.acquires++
	k.held++
	if k.held > k.maxHeld {
		k.maxHeld = k.held
	}
}

func (k *fakeKeepAlive) Release() {
	k.releases++
	k.held--
}

type fakeStore struct {
	ids   []string
	saves int
}

func (s *fakeStore) LoadKnownGood(context.Context) ([]string, error) {
	return append([]string(nil), s.ids...), nil
}

func (s *fakeStore) SaveKnownGood(_ context.Context, ids []string) error {
	s.saves++
	s.ids = append([]string(nil), ids...)
	return nil
}

type fakeServices struct {
	fn    func([]OtherService)
	stops int
}

func (s *fakeServices) Watch(fn func([]OtherService)) func() {
	s.fn = fn
	return func() { s.stops++ }
}

var supportedCaps = printer.Capabilities{
	Supported: true,
	Formats:   []string{"application/pdf"},
}

// on runs fn as a control loop callback.
func on(m *loop.Manual, fn func()) {
	m.Post(fn)
}

type sessionFixture struct {
	m        *loop.Manual
	disc     *fakeDiscovery
	resolver *fakeResolver
	host     *fakeHost
	store    *fakeStore
	services *fakeServices
	session  *DiscoverySession
}

func newSessionFixture(store *fakeStore) *sessionFixture {
	if store == nil {
		store = &fakeStore{}
	}
	f := &sessionFixture{
		m:        loop.NewManual(time.Unix(1000, 0)),
		disc:     newFakeDiscovery(),
		resolver: newFakeResolver(),
		host:     newFakeHost(),
		store:    store,
		services: &fakeServices{},
	}
	f.session = NewDiscoverySession(f.m, SessionConfig{
		Discovery: f.disc,
		Resolver:  f.resolver,
		Host:      f.host,
		Store:     f.store,
		Services:  f.services,
	}, zap.NewNop())
	return f
}

type jobFixture struct {
	m         *loop.Manual
	disc      *fakeDiscovery
	resolver  *fakeResolver
	backend   *fakeBackend
	host      *fakeHost
	keepAlive *fakeKeepAlive
	queue     *JobQueue
	finished  []*PrintJob

	onFinished func(*PrintJob)
}

func newJobFixture() *jobFixture {
	f := &jobFixture{
		m:         loop.NewManual(time.Unix(1000, 0)),
		disc:      newFakeDiscovery(),
		resolver:  newFakeResolver(),
		backend:   &fakeBackend{},
		host:      newFakeHost(),
		keepAlive: &fakeKeepAlive{},
	}
	f.queue = NewJobQueue(f.m, JobDeps{
		Discovery: f.disc,
		Resolver:  f.resolver,
		Backend:   f.backend,
		Host:      f.host,
		KeepAlive: f.keepAlive,
	}, f, zap.NewNop())
	return f
}

func (f *jobFixture) QueueDepth(int, bool) {}
func (f *jobFixture) JobFinished(job *PrintJob) {
	f.finished = append(f.finished, job)
	if f.onFinished != nil {
		f.onFinished(job)
	}
}

func (f *jobFixture) enqueue(id string, target printer.ID) *PrintJob {
	job := f.queue.NewJob(id, JobRequest{
		PrinterID: target,
		Name:      id,
		Document:  Document{Path: "/tmp/" + id + ".pdf", MimeType: "application/pdf"},
		Copies:    1,
	})
	on(f.m, func() { f.queue.Enqueue(job) })
	return job
}

func descriptor(name, address, uuid string) printer.Descriptor {
	return printer.NewDescriptor(name, address, uuid)
}
