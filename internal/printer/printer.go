package printer

import (
	"net"
	"strings"
)

// Descriptor is what a discovery source knows about a printer it has seen.
type Descriptor struct {
	ID      ID                `json:"id"`
	Name    string            `json:"name"`
	Address string            `json:"address"`
	Path    string            `json:"path"`
	Service string            `json:"service"`
	TXT     map[string]string `json:"txt,omitempty"`
}

// NewDescriptor derives the identity from uuid when present and from the
// address otherwise.
func NewDescriptor(name, address, uuid string) Descriptor {
	id := TransientID(address)
	if strings.TrimSpace(uuid) != "" {
		id = StableID(uuid)
	}
	return Descriptor{ID: id, Name: name, Address: address}
}

// Host returns the address without its port.
func (d Descriptor) Host() string {
	host, _, err := net.SplitHostPort(d.Address)
	if err != nil {
		return d.Address
	}
	return host
}

// Capabilities is the resolved profile of a printer.
type Capabilities struct {
	Supported bool     `json:"supported"`
	MakeModel string   `json:"make_model,omitempty"`
	Formats   []string `json:"formats"`
	Color     bool     `json:"color"`
	Duplex    bool     `json:"duplex"`
}

func (c Capabilities) SupportsFormat(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	for _, f := range c.Formats {
		if f == mimeType || f == "application/octet-stream" {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusIdle        Status = "idle"
	StatusUnavailable Status = "unavailable"
)

// Info is the publishable form of a printer handed to the host.
type Info struct {
	ID           ID            `json:"id"`
	Name         string        `json:"name"`
	Address      string        `json:"address"`
	Status       Status        `json:"status"`
	Capabilities *Capabilities `json:"capabilities,omitempty"`
}
