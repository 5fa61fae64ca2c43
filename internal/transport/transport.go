// Package transport provides the address-family glue underneath engines:
// non-blocking socket descriptors for stream transports (tcp, ipc), a pumped
// WebSocket connection, and multicast datagram sockets for the radio-dish
// group transport. The core consumes these through small capabilities and
// never touches address parsing itself.
package transport

import (
	"fmt"
	"strings"

	"github.com/GriffinCanCode/Courier/internal/errs"
)

// Scheme names accepted in endpoint strings.
const (
	SchemeTCP    = "tcp"
	SchemeIPC    = "ipc"
	SchemeInproc = "inproc"
	SchemeWS     = "ws"
	SchemeUDP    = "udp"
)

// SplitEndpoint splits "scheme://address" and validates the scheme.
func SplitEndpoint(endpoint string) (scheme, addr string, err error) {
	i := strings.Index(endpoint, "://")
	if i < 0 {
		return "", "", fmt.Errorf("endpoint %q: %w", endpoint, errs.ErrInval)
	}
	scheme, addr = endpoint[:i], endpoint[i+3:]
	switch scheme {
	case SchemeTCP, SchemeIPC, SchemeInproc, SchemeWS, SchemeUDP:
		return scheme, addr, nil
	default:
		return "", "", fmt.Errorf("scheme %q: %w", scheme, errs.ErrInval)
	}
}

// StreamListener accepts raw non-blocking connected descriptors; it is owned
// and polled by one I/O thread.
type StreamListener interface {
	// Fd returns the listening descriptor for poller registration.
	Fd() int
	// Accept returns one connected non-blocking descriptor, or errs.ErrAgain
	// when the backlog is empty.
	Accept() (int, error)
	// Addr returns the effective endpoint (wildcard ports resolved).
	Addr() string
	Close() error
}

// Pending is an in-flight non-blocking connect. The caller polls the
// descriptor for writability and then calls Finish.
type Pending struct {
	fd int
}

// Fd returns the connecting descriptor.
func (p *Pending) Fd() int { return p.fd }

// Finish checks the outcome of the connect; on success the descriptor is
// ready for data.
func (p *Pending) Finish() (int, error) {
	if err := sysConnectErr(p.fd); err != nil {
		sysClose(p.fd)
		return -1, err
	}
	return p.fd, nil
}

// Abort closes the in-flight descriptor.
func (p *Pending) Abort() {
	sysClose(p.fd)
}
