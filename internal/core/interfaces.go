package core

import (
	"context"
	"strings"
	"time"

	"github.com/orrn/netprint/internal/printer"
)

// Callbacks delivered by collaborators may arrive on any goroutine. The
// session and jobs re-post them onto the control loop before touching state.

type DiscoveryListener interface {
	OnPrinterFound(d printer.Descriptor)
	OnPrinterLost(d printer.Descriptor)
}

// Discovery reports printers appearing and disappearing between Start and
// Stop for a given listener.
type Discovery interface {
	Start(l DiscoveryListener)
	Stop(l DiscoveryListener)
}

// CapabilityCallback receives ok=false when resolution failed.
type CapabilityCallback func(d printer.Descriptor, caps printer.Capabilities, ok bool)

// CapabilityResolver resolves and caches printer capability profiles. The
// callback runs exactly once per Request; requests for the same address may
// share one resolution.
type CapabilityResolver interface {
	Cached(d printer.Descriptor) (printer.Capabilities, bool)
	Request(d printer.Descriptor, priority bool, cb CapabilityCallback)
	Evict(d printer.Descriptor)
}

// Backend transmits one document at a time. onStatus receives a sequence of
// notifications that ends with exactly one BackendDone.
type Backend interface {
	Print(d printer.Descriptor, job JobSpec, caps printer.Capabilities, onStatus func(BackendStatus)) error
	Cancel()
	CloseDocument()
}

type BackendState int

const (
	BackendRunning BackendState = iota
	BackendBlocked
	BackendDone
)

type ResultCode int

const (
	ResultOK ResultCode = iota
	ResultCancelled
	ResultCorrupt
	ResultError
)

type BackendStatus struct {
	State   BackendState
	Result  ResultCode
	Blocked BlockedReason
	Err     error
}

// BlockedReason is a bit set of conditions keeping a job from progressing.
type BlockedReason uint32

const (
	BlockedOffline BlockedReason = 1 << iota
	BlockedBusy
	BlockedOutOfPaper
	BlockedOutOfInk
	BlockedOutOfToner
	BlockedJammed
	BlockedDoorOpen
	BlockedServiceRequest
	BlockedLowOnInk
	BlockedLowOnToner
	BlockedReallyLowOnInk
	BlockedUnknown
	BlockedUnableToConnect
)

var blockedMessages = []struct {
	reason  BlockedReason
	message string
}{
	{BlockedOffline, "printer is offline"},
	{BlockedBusy, "printer is busy"},
	{BlockedOutOfPaper, "out of paper"},
	{BlockedOutOfInk, "out of ink"},
	{BlockedOutOfToner, "out of toner"},
	{BlockedJammed, "paper jammed"},
	{BlockedDoorOpen, "door open"},
	{BlockedServiceRequest, "printer needs service"},
	{BlockedReallyLowOnInk, "ink very low"},
	{BlockedLowOnInk, "ink low"},
	{BlockedLowOnToner, "toner low"},
	{BlockedUnknown, "printer error"},
	{BlockedUnableToConnect, "unable to connect to printer"},
}

// String renders the reasons as one human-readable message.
func (r BlockedReason) String() string {
	var parts []string
	for _, m := range blockedMessages {
		if r&m.reason != 0 {
			parts = append(parts, m.message)
		}
	}
	if len(parts) == 0 {
		return "printer error"
	}
	return strings.Join(parts, ", ")
}

// Host is the print subsystem consuming printer and job updates. Calls are
// made on the control loop and must not block.
type Host interface {
	AddPrinters(infos []printer.Info)
	RemovePrinters(ids []printer.ID)
	JobStateChanged(u JobUpdate)
}

type JobState string

const (
	JobQueued    JobState = "queued"
	JobStarted   JobState = "started"
	JobBlocked   JobState = "blocked"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobCancelled JobState = "cancelled"
	JobFailed    JobState = "failed"
)

func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobCancelled || s == JobFailed
}

type JobUpdate struct {
	JobID     string
	PrinterID printer.ID
	State     JobState
	Reason    string
	Time      time.Time
}

// KeepAlive keeps the network path awake while a job is active.
type KeepAlive interface {
	Acquire()
	Release()
}

// KnownGoodStore persists the known-good printer list as an ordered array of
// opaque ids, most recent first.
type KnownGoodStore interface {
	LoadKnownGood(ctx context.Context) ([]string, error)
	SaveKnownGood(ctx context.Context, ids []string) error
}

// OtherService is another print service installed on the host and the
// network addresses it is able to serve.
type OtherService struct {
	Package   string   `json:"package"`
	Enabled   bool     `json:"enabled"`
	Addresses []string `json:"addresses"`
}

// ServicesWatcher reports the current set of other services immediately and
// again whenever it changes, until stop is called.
type ServicesWatcher interface {
	Watch(fn func([]OtherService)) (stop func())
}
