package core

import (
	"time"

	"github.com/orrn/netprint/internal/printer"
)

const DefaultExpirationWindow = 3 * time.Second

type capabilityState int

const (
	capsUnresolved capabilityState = iota
	capsResolved
	capsFailed
)

// PrinterRecord is the session's view of one discovered printer. It is only
// touched on the control loop.
type PrinterRecord struct {
	session  *DiscoverySession
	desc     printer.Descriptor
	found    bool
	lastSeen time.Time

	state   capabilityState
	caps    printer.Capabilities
	pending bool
}

func newPrinterRecord(s *DiscoverySession, d printer.Descriptor) *PrinterRecord {
	return &PrinterRecord{session: s, desc: d, lastSeen: s.exec.Now()}
}

func (r *PrinterRecord) ID() printer.ID                 { return r.desc.ID }
func (r *PrinterRecord) Descriptor() printer.Descriptor { return r.desc }
func (r *PrinterRecord) Found() bool                    { return r.found }

// Capabilities returns the resolved profile, if any.
func (r *PrinterRecord) Capabilities() (printer.Capabilities, bool) {
	return r.caps, r.state == capsResolved
}

// markFound marks the printer visible. A profile already held by the resolver is
// adopted without a new request; otherwise at most one request is in flight.
func (r *PrinterRecord) markFound(d printer.Descriptor) {
	wasFound := r.found
	r.desc = d
	r.found = true
	r.lastSeen = r.session.exec.Now()

	if caps, ok := r.session.resolver.Cached(d); ok {
		r.state = capsResolved
		r.caps = caps
		r.session.handlePrinter(r)
		return
	}
	if r.pending || (wasFound && r.state == capsFailed) {
		r.session.handlePrinter(r)
		return
	}
	r.requestCapabilities(r.session.isPriority(r.desc.ID))
	r.session.handlePrinter(r)
}

func (r *PrinterRecord) markNotFound() {
	r.found = false
	r.lastSeen = r.session.exec.Now()
}

func (r *PrinterRecord) isExpired(now time.Time) bool {
	return !r.found && now.Sub(r.lastSeen) >= r.session.expiration
}

// track asks for a priority refresh once the host starts watching the printer.
func (r *PrinterRecord) track() {
	if r.pending {
		return
	}
	r.requestCapabilities(true)
}

func (r *PrinterRecord) requestCapabilities(priority bool) {
	r.pending = true
	s := r.session
	s.resolver.Request(r.desc, priority, func(_ printer.Descriptor, caps printer.Capabilities, ok bool) {
		s.exec.Post(func() { r.onCapabilities(caps, ok) })
	})
}

func (r *PrinterRecord) onCapabilities(caps printer.Capabilities, ok bool) {
	r.pending = false
	s := r.session
	if s.closed || s.printers[r.desc.ID] != r {
		return
	}

	if !ok {
		r.state = capsFailed
		r.caps = printer.Capabilities{}
		if !s.knownGood.contains(r.desc.ID) {
			s.logger.Debug("dropping printer without capabilities")
			s.removeRecord(r)
			return
		}
		s.handlePrinter(r)
		return
	}

	r.state = capsResolved
	r.caps = caps
	s.handlePrinter(r)
}

// publishableInfo builds what the host would see. It never mutates the record.
func (r *PrinterRecord) publishableInfo(knownGood bool) (printer.Info, bool) {
	if r.state == capsResolved && !r.caps.Supported {
		return printer.Info{}, false
	}
	if r.state != capsResolved && !knownGood {
		return printer.Info{}, false
	}

	info := printer.Info{
		ID:      r.desc.ID,
		Name:    r.desc.Name,
		Address: r.desc.Address,
		Status:  printer.StatusUnavailable,
	}
	if r.state == capsResolved {
		caps := r.caps
		caps.Formats = append([]string(nil), r.caps.Formats...)
		info.Capabilities = &caps
		if r.found {
			info.Status = printer.StatusIdle
		}
	}
	return info, true
}
