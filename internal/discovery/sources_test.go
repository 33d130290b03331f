package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orrn/netprint/internal/config"
	"github.com/orrn/netprint/internal/metrics"
	"github.com/orrn/netprint/internal/printer"
)

type sinkEvent struct {
	lost bool
	desc printer.Descriptor
}

type collectSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

func (s *collectSink) Found(d printer.Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{desc: d})
}

func (s *collectSink) Lost(d printer.Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{lost: true, desc: d})
}

func (s *collectSink) take() []sinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

func TestManualSourceReportsTransitions(t *testing.T) {
	cfg := config.DiscoveryConfig{
		ManualPrinters: []config.ManualPrinter{
			{Name: "Label", Address: "10.0.0.5:9100", UUID: "5555", Formats: []string{"application/vnd.tspl"}},
		},
	}
	src := NewManualSource(cfg, zap.NewNop())

	up := true
	src.dial = func(context.Context, string, string) (net.Conn, error) {
		if !up {
			return nil, errors.New("refused")
		}
		client, server := net.Pipe()
		_ = server.Close()
		return client, nil
	}

	sink := &collectSink{}
	ctx := context.Background()
	online := make(map[printer.ID]bool)

	src.probeAll(ctx, sink, online)
	events := sink.take()
	require.Len(t, events, 1)
	assert.False(t, events[0].lost)
	assert.Equal(t, "uuid:5555", events[0].desc.ID.String())
	assert.Equal(t, "socket://10.0.0.5:9100", events[0].desc.Path)
	assert.Equal(t, "application/vnd.tspl", events[0].desc.TXT["pdl"])

	src.probeAll(ctx, sink, online)
	assert.Empty(t, sink.take(), "no event while state is unchanged")

	up = false
	src.probeAll(ctx, sink, online)
	events = sink.take()
	require.Len(t, events, 1)
	assert.True(t, events[0].lost)
}

func TestManualDescriptorDefaults(t *testing.T) {
	d := ManualDescriptor(config.ManualPrinter{Address: "10.0.0.7:9100"})
	assert.Equal(t, "10.0.0.7:9100", d.Name)
	assert.False(t, d.ID.IsStable())
	assert.Nil(t, d.TXT)
}

func entry(instance, ip string, port int, ttl uint32, txt ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, "_ipp._tcp", "local.")
	e.AddrIPv4 = []net.IP{net.ParseIP(ip)}
	e.Port = port
	e.TTL = ttl
	e.Text = txt
	return e
}

func TestMDNSSourceRounds(t *testing.T) {
	cfg := config.DiscoveryConfig{MDNSServices: []string{"_ipp._tcp"}, BrowseTimeout: time.Second}
	src := NewMDNSSource(cfg, zap.NewNop())

	var answers []*zeroconf.ServiceEntry
	src.browse = func(context.Context, string, string) ([]*zeroconf.ServiceEntry, error) {
		return answers, nil
	}

	sink := &collectSink{}
	seen := make(map[printer.ID]*mdnsPrinter)
	ctx := context.Background()

	answers = []*zeroconf.ServiceEntry{entry("Office", "10.0.0.1", 631, 120, "UUID=ABCD", "rp=ipp/print", "pdl=application/pdf")}
	src.round(ctx, sink, seen)
	events := sink.take()
	require.Len(t, events, 1)
	d := events[0].desc
	assert.Equal(t, "uuid:abcd", d.ID.String())
	assert.Equal(t, "Office", d.Name)
	assert.Equal(t, "10.0.0.1:631", d.Address)
	assert.Equal(t, "ipp://10.0.0.1:631/ipp/print", d.Path)

	src.round(ctx, sink, seen)
	assert.Empty(t, sink.take(), "unchanged answers are not reported again")

	answers = nil
	src.round(ctx, sink, seen)
	assert.Empty(t, sink.take(), "a single missed round is tolerated")
	src.round(ctx, sink, seen)
	events = sink.take()
	require.Len(t, events, 1)
	assert.True(t, events[0].lost)
}

func TestMDNSSourceGoodbye(t *testing.T) {
	cfg := config.DiscoveryConfig{MDNSServices: []string{"_ipp._tcp"}, BrowseTimeout: time.Second}
	src := NewMDNSSource(cfg, zap.NewNop())

	answers := []*zeroconf.ServiceEntry{entry("Office", "10.0.0.1", 631, 120)}
	src.browse = func(context.Context, string, string) ([]*zeroconf.ServiceEntry, error) {
		return answers, nil
	}
	sink := &collectSink{}
	seen := make(map[printer.ID]*mdnsPrinter)

	src.round(context.Background(), sink, seen)
	require.Len(t, sink.take(), 1)

	answers = []*zeroconf.ServiceEntry{entry("Office", "10.0.0.1", 631, 0)}
	src.round(context.Background(), sink, seen)
	events := sink.take()
	require.Len(t, events, 1)
	assert.True(t, events[0].lost)
	assert.False(t, events[0].desc.ID.IsStable())
}

func TestMDNSSourceBrowseErrorKeepsPrinters(t *testing.T) {
	cfg := config.DiscoveryConfig{MDNSServices: []string{"_ipp._tcp", "_pdl-datastream._tcp"}, BrowseTimeout: time.Second}
	src := NewMDNSSource(cfg, zap.NewNop())

	src.browse = func(_ context.Context, service, _ string) ([]*zeroconf.ServiceEntry, error) {
		if service == "_pdl-datastream._tcp" {
			return nil, errors.New("network down")
		}
		return []*zeroconf.ServiceEntry{entry("Office", "10.0.0.1", 631, 120)}, nil
	}
	sink := &collectSink{}
	seen := make(map[printer.ID]*mdnsPrinter)

	src.round(context.Background(), sink, seen)
	src.round(context.Background(), sink, seen)
	src.round(context.Background(), sink, seen)
	assert.Len(t, sink.take(), 1)
}

func TestEntryDescriptor(t *testing.T) {
	e := zeroconf.NewServiceEntry("", "_pdl-datastream._tcp", "local.")
	e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
	e.Port = 9100
	e.Text = []string{"ty=Zebra ZD420", "pdl=application/vnd.zebra-zpl"}

	d, ok := entryDescriptor(e)
	require.True(t, ok)
	assert.Equal(t, "Zebra ZD420", d.Name)
	assert.Equal(t, "[fe80::1]:9100", d.Address)
	assert.Equal(t, "socket://[fe80::1]:9100", d.Path)
	assert.Equal(t, "addr:[fe80::1]:9100", d.ID.String())

	_, ok = entryDescriptor(zeroconf.NewServiceEntry("x", "_ipp._tcp", "local."))
	assert.False(t, ok, "entries without an address are skipped")
}

func TestHubRestartsSourcesWhilePreviousRunsDrain(t *testing.T) {
	cfg := config.DiscoveryConfig{
		MDNSServices:   []string{"_ipp._tcp", "_pdl-datastream._tcp"},
		BrowseTimeout:  time.Second,
		ManualPrinters: []config.ManualPrinter{{Name: "Label", Address: "10.0.0.5:9100", UUID: "5555"}},
	}
	mdns := NewMDNSSource(cfg, zap.NewNop())
	answers := []*zeroconf.ServiceEntry{entry("Office", "10.0.0.1", 631, 120, "UUID=ABCD")}
	mdns.browse = func(context.Context, string, string) ([]*zeroconf.ServiceEntry, error) {
		return answers, nil
	}
	manual := NewManualSource(cfg, zap.NewNop())
	manual.dial = func(context.Context, string, string) (net.Conn, error) {
		client, server := net.Pipe()
		_ = server.Close()
		return client, nil
	}

	h := NewHub(zap.NewNop(), metrics.NewNop(), mdns, manual)
	defer h.Close()

	l := &recordingListener{}
	for i := 0; i < 200; i++ {
		h.Start(l)
		h.Stop(l)
	}

	h.Start(l)
	require.Eventually(t, func() bool {
		found, _ := l.snapshot()
		return containsID(found, "uuid:abcd") && containsID(found, "uuid:5555")
	}, 2*time.Second, 10*time.Millisecond)
}

func containsID(ids []printer.ID, want string) bool {
	for _, id := range ids {
		if id.String() == want {
			return true
		}
	}
	return false
}
