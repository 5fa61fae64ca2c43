package transport

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/Courier/internal/errs"
)

// tcpListener accepts non-blocking TCP connections.
type tcpListener struct {
	fd   int
	addr string
}

// ListenTCP binds host:port; port 0 or "*" as host are wildcards.
func ListenTCP(addr string) (StreamListener, error) {
	sa, family, err := resolveTCP(addr)
	if err != nil {
		return nil, err
	}
	fd, err := newStreamSocket(family)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		sysClose(fd)
		return nil, mapSysErr(err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		sysClose(fd)
		return nil, mapSysErr(err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		sysClose(fd)
		return nil, mapSysErr(err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		sysClose(fd)
		return nil, mapSysErr(err)
	}
	return &tcpListener{fd: fd, addr: sockaddrString(bound)}, nil
}

func (l *tcpListener) Fd() int { return l.fd }

func (l *tcpListener) Accept() (int, error) {
	fd, err := acceptConn(l.fd)
	if err != nil {
		return -1, err
	}
	tuneTCP(fd)
	return fd, nil
}

func (l *tcpListener) Addr() string { return SchemeTCP + "://" + l.addr }

func (l *tcpListener) Close() error { return unix.Close(l.fd) }

// ConnectTCP starts a non-blocking connect; completion is signalled by
// writability of the returned descriptor.
func ConnectTCP(addr string) (*Pending, error) {
	sa, family, err := resolveTCP(addr)
	if err != nil {
		return nil, err
	}
	fd, err := newStreamSocket(family)
	if err != nil {
		return nil, err
	}
	tuneTCP(fd)
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		sysClose(fd)
		return nil, mapSysErr(err)
	}
	return &Pending{fd: fd}, nil
}

// tuneTCP disables Nagle; latency beats the last few percent of throughput
// on a message transport.
func tuneTCP(fd int) {
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
}

func resolveTCP(addr string) (unix.Sockaddr, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, 0, fmt.Errorf("tcp address %q: %w", addr, errs.ErrInval)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return nil, 0, fmt.Errorf("tcp port %q: %w", portStr, errs.ErrInval)
	}

	if host == "*" || host == "" {
		return &unix.SockaddrInet4{Port: port}, unix.AF_INET, nil
	}
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return nil, 0, fmt.Errorf("tcp host %q: %w", host, errs.ErrAddrNotAvail)
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			sa := &unix.SockaddrInet4{Port: port}
			copy(sa.Addr[:], v4)
			return sa, unix.AF_INET, nil
		}
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ips[0].To16())
	return sa, unix.AF_INET6, nil
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrUnix:
		return a.Name
	default:
		return ""
	}
}
