package core

import (
	"net"
	"strings"
)

// suppressionTable maps a printer host to the other services able to serve
// it. A printer is hidden while any of those services is enabled.
type suppressionTable struct {
	byHost  map[string]map[string]struct{}
	enabled map[string]bool
}

func newSuppressionTable() *suppressionTable {
	return &suppressionTable{
		byHost:  make(map[string]map[string]struct{}),
		enabled: make(map[string]bool),
	}
}

func (t *suppressionTable) rebuild(services []OtherService) {
	t.byHost = make(map[string]map[string]struct{})
	t.enabled = make(map[string]bool)
	for _, svc := range services {
		if svc.Package == "" {
			continue
		}
		t.enabled[svc.Package] = t.enabled[svc.Package] || svc.Enabled
		for _, addr := range svc.Addresses {
			host := normalizeHost(addr)
			if host == "" {
				continue
			}
			pkgs, ok := t.byHost[host]
			if !ok {
				pkgs = make(map[string]struct{})
				t.byHost[host] = pkgs
			}
			pkgs[svc.Package] = struct{}{}
		}
	}
}

func (t *suppressionTable) hidden(host string) bool {
	for pkg := range t.byHost[normalizeHost(host)] {
		if t.enabled[pkg] {
			return true
		}
	}
	return false
}

func normalizeHost(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return strings.ToLower(strings.Trim(addr, "[]"))
}
