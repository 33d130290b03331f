package capabilities

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/orrn/netprint/internal/printer"
)

// TCPProber checks that the printer accepts connections and derives its
// profile from the advertised TXT record.
type TCPProber struct {
	dialer         net.Dialer
	defaultFormats []string
}

func NewTCPProber(defaultFormats []string) *TCPProber {
	return &TCPProber{defaultFormats: defaultFormats}
}

func (p *TCPProber) Probe(ctx context.Context, d printer.Descriptor) (printer.Capabilities, error) {
	conn, err := p.dialer.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return printer.Capabilities{}, fmt.Errorf("probe %s: %w", d.Address, err)
	}
	_ = conn.Close()

	return ProfileFromTXT(d.TXT, p.defaultFormats), nil
}

// ProfileFromTXT reads the DNS-SD printer keys: pdl (comma separated MIME
// types), Color and Duplex (T/F) and ty (make and model).
func ProfileFromTXT(txt map[string]string, defaultFormats []string) printer.Capabilities {
	caps := printer.Capabilities{
		MakeModel: txt["ty"],
		Color:     txtBool(txt["Color"]),
		Duplex:    txtBool(txt["Duplex"]),
	}

	for _, f := range strings.Split(txt["pdl"], ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			caps.Formats = append(caps.Formats, f)
		}
	}
	if len(caps.Formats) == 0 {
		caps.Formats = append([]string(nil), defaultFormats...)
	}
	caps.Supported = len(caps.Formats) > 0
	return caps
}

func txtBool(v string) bool {
	switch strings.ToLower(v) {
	case "t", "true", "1":
		return true
	}
	return false
}
