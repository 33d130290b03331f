package discovery

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/netprint/internal/config"
	"github.com/orrn/netprint/internal/printer"
)

// ManualSource reports configured printers as found while they accept TCP
// connections and lost once they stop.
type ManualSource struct {
	printers []printer.Descriptor
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	dial     func(ctx context.Context, network, address string) (net.Conn, error)
}

func NewManualSource(cfg config.DiscoveryConfig, logger *zap.Logger) *ManualSource {
	descs := make([]printer.Descriptor, 0, len(cfg.ManualPrinters))
	for _, p := range cfg.ManualPrinters {
		descs = append(descs, ManualDescriptor(p))
	}

	interval := cfg.ProbeInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	dialer := &net.Dialer{}
	return &ManualSource{
		printers: descs,
		interval: interval,
		timeout:  timeout,
		logger:   logger.Named("manual"),
		dial:     dialer.DialContext,
	}
}

// ManualDescriptor turns a configured printer into what discovery reports.
func ManualDescriptor(p config.ManualPrinter) printer.Descriptor {
	name := p.Name
	if name == "" {
		name = p.Address
	}
	d := printer.NewDescriptor(name, p.Address, p.UUID)
	d.Path = "socket://" + p.Address
	d.Service = "manual"
	if len(p.Formats) > 0 {
		d.TXT = map[string]string{"pdl": strings.Join(p.Formats, ",")}
	}
	return d
}

func (s *ManualSource) Name() string { return "manual" }

func (s *ManualSource) Run(ctx context.Context, sink Sink) {
	if len(s.printers) == 0 {
		return
	}
	online := make(map[printer.ID]bool)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.probeAll(ctx, sink, online)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probeAll(ctx, sink, online)
		}
	}
}

// probeAll reports printers whose reachability differs from online and
// updates it.
func (s *ManualSource) probeAll(ctx context.Context, sink Sink, online map[printer.ID]bool) {
	results := make([]bool, len(s.printers))
	var wg sync.WaitGroup
	for i, d := range s.printers {
		wg.Add(1)
		go func(i int, d printer.Descriptor) {
			defer wg.Done()
			results[i] = s.probe(ctx, d.Address)
		}(i, d)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return
	}
	for i, d := range s.printers {
		up := results[i]
		if up == online[d.ID] {
			continue
		}
		online[d.ID] = up
		if up {
			sink.Found(d)
		} else {
			s.logger.Info("manual printer unreachable", zap.String("address", d.Address))
			sink.Lost(d)
		}
	}
}

func (s *ManualSource) probe(ctx context.Context, address string) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	conn, err := s.dial(ctx, "tcp", address)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
