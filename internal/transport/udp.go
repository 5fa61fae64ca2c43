package transport

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"

	"github.com/GriffinCanCode/Courier/internal/errs"
)

// The radio-dish group transport runs over UDP, multicast or unicast. Each
// datagram carries one chunk: a 16-bit offset header followed by wire frames
// (see the chunked engine). Datagram I/O is pumped like WebSocket.

// DgramConn is one datagram endpoint.
type DgramConn struct {
	conn  *net.UDPConn
	pconn *ipv4.PacketConn
	dst   *net.UDPAddr
	buf   []byte
}

// maxDatagram bounds a single chunk; larger chunks fragment at the IP layer
// anyway and lose more on a single drop.
const maxDatagram = 8192

// OpenDish binds the receiving side. Multicast groups are joined on all
// interfaces.
func OpenDish(addr string) (*DgramConn, error) {
	ua, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("udp address %q: %w", addr, errs.ErrInval)
	}

	if ua.IP != nil && ua.IP.IsMulticast() {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: ua.Port})
		if err != nil {
			return nil, mapNetErr(err)
		}
		p := ipv4.NewPacketConn(conn)
		if err := joinAllInterfaces(p, ua.IP); err != nil {
			conn.Close()
			return nil, err
		}
		return &DgramConn{conn: conn, pconn: p, buf: make([]byte, maxDatagram)}, nil
	}

	conn, err := net.ListenUDP("udp4", ua)
	if err != nil {
		return nil, mapNetErr(err)
	}
	return &DgramConn{conn: conn, buf: make([]byte, maxDatagram)}, nil
}

// OpenRadio opens the sending side toward a group or unicast peer.
func OpenRadio(addr string) (*DgramConn, error) {
	ua, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("udp address %q: %w", addr, errs.ErrInval)
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, mapNetErr(err)
	}
	d := &DgramConn{conn: conn, dst: ua, buf: make([]byte, maxDatagram)}
	if ua.IP.IsMulticast() {
		p := ipv4.NewPacketConn(conn)
		_ = p.SetMulticastTTL(1)
		_ = p.SetMulticastLoopback(true)
		d.pconn = p
	}
	return d, nil
}

func joinAllInterfaces(p *ipv4.PacketConn, group net.IP) error {
	ifaces, err := net.Interfaces()
	if err != nil {
		return mapNetErr(err)
	}
	joined := false
	g := &net.UDPAddr{IP: group}
	for i := range ifaces {
		ifc := &ifaces[i]
		if ifc.Flags&net.FlagMulticast == 0 || ifc.Flags&net.FlagUp == 0 {
			continue
		}
		if err := p.JoinGroup(ifc, g); err == nil {
			joined = true
		}
	}
	if !joined {
		return fmt.Errorf("multicast join %v: %w", group, errs.ErrAddrNotAvail)
	}
	return nil
}

// ReadChunk blocks for the next datagram; the slice is valid until the next
// call.
func (d *DgramConn) ReadChunk() ([]byte, error) {
	n, _, err := d.conn.ReadFromUDP(d.buf)
	if err != nil {
		return nil, fmt.Errorf("udp read: %w", errs.ErrNotConn)
	}
	return d.buf[:n], nil
}

// WriteChunk sends one datagram.
func (d *DgramConn) WriteChunk(b []byte) error {
	var err error
	if d.dst != nil {
		_, err = d.conn.WriteToUDP(b, d.dst)
	} else {
		_, err = d.conn.Write(b)
	}
	if err != nil {
		return fmt.Errorf("udp write: %w", errs.ErrNotConn)
	}
	return nil
}

func (d *DgramConn) Close() error { return d.conn.Close() }
