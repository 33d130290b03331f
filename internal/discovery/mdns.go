package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/orrn/netprint/internal/config"
	"github.com/orrn/netprint/internal/printer"
)

// missedRoundsBeforeLost is how many browse rounds a printer may be absent
// from before it is reported lost.
const missedRoundsBeforeLost = 2

type browseFunc func(ctx context.Context, service, domain string) ([]*zeroconf.ServiceEntry, error)

// MDNSSource browses DNS-SD printer services in rounds.
type MDNSSource struct {
	services []string
	domain   string
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	browse   browseFunc
}

type mdnsPrinter struct {
	desc   printer.Descriptor
	missed int
}

func NewMDNSSource(cfg config.DiscoveryConfig, logger *zap.Logger) *MDNSSource {
	domain := cfg.MDNSDomain
	if domain == "" {
		domain = "local."
	}
	timeout := cfg.BrowseTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	interval := cfg.BrowseInterval
	if interval < timeout {
		interval = timeout
	}
	return &MDNSSource{
		services: cfg.MDNSServices,
		domain:   domain,
		interval: interval,
		timeout:  timeout,
		logger:   logger.Named("mdns"),
		browse:   browseZeroconf,
	}
}

func (s *MDNSSource) Name() string { return "mdns" }

// Run keeps what it has reported in its own map, so a source restarted
// before the previous run returns does not share state with it.
func (s *MDNSSource) Run(ctx context.Context, sink Sink) {
	seen := make(map[printer.ID]*mdnsPrinter)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.round(ctx, sink, seen)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.round(ctx, sink, seen)
		}
	}
}

// round browses every service once, reports new or changed printers and
// those that said goodbye or have been missing too long.
func (s *MDNSSource) round(ctx context.Context, sink Sink, seen map[printer.ID]*mdnsPrinter) {
	present := make(map[printer.ID]bool)
	for _, service := range s.services {
		bctx, cancel := context.WithTimeout(ctx, s.timeout)
		entries, err := s.browse(bctx, service, s.domain)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn("mdns browse failed", zap.String("service", service), zap.Error(err))
			continue
		}

		for _, e := range entries {
			d, ok := entryDescriptor(e)
			if !ok {
				continue
			}
			if e.TTL == 0 {
				if p, known := seen[d.ID]; known {
					delete(seen, d.ID)
					sink.Lost(p.desc)
				}
				continue
			}
			present[d.ID] = true
			p, known := seen[d.ID]
			if known && p.desc.Address == d.Address && p.desc.Name == d.Name {
				p.missed = 0
				continue
			}
			seen[d.ID] = &mdnsPrinter{desc: d}
			sink.Found(d)
		}
	}

	for id, p := range seen {
		if present[id] {
			continue
		}
		p.missed++
		if p.missed >= missedRoundsBeforeLost {
			delete(seen, id)
			sink.Lost(p.desc)
		}
	}
}

func browseZeroconf(ctx context.Context, service, domain string) ([]*zeroconf.ServiceEntry, error) {
	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return nil, fmt.Errorf("create resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 32)
	done := make(chan []*zeroconf.ServiceEntry, 1)
	go func() {
		var out []*zeroconf.ServiceEntry
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					done <- out
					return
				}
				out = append(out, e)
			case <-ctx.Done():
				done <- out
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return nil, fmt.Errorf("browse %s: %w", service, err)
	}
	<-ctx.Done()
	return <-done, nil
}

// entryDescriptor maps a DNS-SD answer to a printer. The TXT UUID key gives a
// stable identity; without it the address is used.
func entryDescriptor(e *zeroconf.ServiceEntry) (printer.Descriptor, bool) {
	var ip net.IP
	switch {
	case len(e.AddrIPv4) > 0:
		ip = e.AddrIPv4[0]
	case len(e.AddrIPv6) > 0:
		ip = e.AddrIPv6[0]
	default:
		return printer.Descriptor{}, false
	}
	if e.Port <= 0 {
		return printer.Descriptor{}, false
	}
	address := net.JoinHostPort(ip.String(), strconv.Itoa(e.Port))

	txt := parseTXT(e.Text)
	name := e.Instance
	if name == "" {
		name = txt["ty"]
	}

	d := printer.NewDescriptor(name, address, txt["uuid"])
	d.Service = e.Service
	d.TXT = txt
	if strings.HasPrefix(e.Service, "_pdl-datastream") {
		d.Path = "socket://" + address
	} else {
		d.Path = "ipp://" + address + "/" + strings.TrimPrefix(txt["rp"], "/")
	}
	return d, true
}

// parseTXT keeps the keys as the printer sent them plus a lowercase "uuid"
// alias, since vendors disagree on its case.
func parseTXT(records []string) map[string]string {
	txt := make(map[string]string, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		if k == "" {
			continue
		}
		txt[k] = v
		if strings.EqualFold(k, "uuid") {
			txt["uuid"] = v
		}
	}
	return txt
}
