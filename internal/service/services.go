package service

import (
	"sync"

	"github.com/orrn/netprint/internal/core"
)

// OtherServices holds the print services installed next to this one. It is
// fed by the host and watched by the discovery session.
type OtherServices struct {
	mu       sync.Mutex
	current  []core.OtherService
	watchers map[int]func([]core.OtherService)
	nextID   int
}

var _ core.ServicesWatcher = (*OtherServices)(nil)

func NewOtherServices() *OtherServices {
	return &OtherServices{watchers: make(map[int]func([]core.OtherService))}
}

func (o *OtherServices) Watch(fn func([]core.OtherService)) (stop func()) {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.watchers[id] = fn
	current := cloneServices(o.current)
	o.mu.Unlock()

	fn(current)
	return func() {
		o.mu.Lock()
		delete(o.watchers, id)
		o.mu.Unlock()
	}
}

// Set replaces the list and notifies every watcher.
func (o *OtherServices) Set(list []core.OtherService) {
	o.mu.Lock()
	o.current = cloneServices(list)
	fns := make([]func([]core.OtherService), 0, len(o.watchers))
	for _, fn := range o.watchers {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(cloneServices(list))
	}
}

func (o *OtherServices) List() []core.OtherService {
	o.mu.Lock()
	defer o.mu.Unlock()
	return cloneServices(o.current)
}

func cloneServices(list []core.OtherService) []core.OtherService {
	out := make([]core.OtherService, len(list))
	for i, s := range list {
		s.Addresses = append([]string(nil), s.Addresses...)
		out[i] = s
	}
	return out
}
