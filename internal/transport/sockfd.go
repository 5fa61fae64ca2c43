package transport

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/Courier/internal/errs"
)

// Thin wrappers around the raw descriptor syscalls used by the stream
// transports. All descriptors are non-blocking and close-on-exec.

func sysClose(fd int) {
	_ = unix.Close(fd)
}

// sysConnectErr reads the outcome of a non-blocking connect.
func sysConnectErr(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return mapSysErr(err)
	}
	if v != 0 {
		return mapSysErr(unix.Errno(v))
	}
	return nil
}

// ReadFd reads into b, returning errs.ErrAgain when the socket has no data
// and errs.ErrNotConn when the peer closed.
func ReadFd(fd int, b []byte) (int, error) {
	for {
		n, err := unix.Read(fd, b)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return 0, errs.ErrAgain
		case err != nil:
			return 0, mapSysErr(err)
		case n == 0:
			return 0, errs.ErrNotConn
		default:
			return n, nil
		}
	}
}

// WriteFd writes b, returning the number of bytes accepted and errs.ErrAgain
// when the socket buffer is full.
func WriteFd(fd int, b []byte) (int, error) {
	for {
		n, err := unix.Write(fd, b)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return 0, errs.ErrAgain
		case err != nil:
			return 0, mapSysErr(err)
		default:
			return n, nil
		}
	}
}

// CloseFd releases a data descriptor.
func CloseFd(fd int) { sysClose(fd) }

// mapSysErr translates errno values onto the core's error surface.
func mapSysErr(err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return err
	}
	switch errno {
	case unix.EADDRINUSE:
		return errs.ErrAddrInUse
	case unix.EADDRNOTAVAIL:
		return errs.ErrAddrNotAvail
	case unix.ECONNREFUSED:
		return errs.ErrConnRefused
	case unix.ECONNRESET, unix.EPIPE:
		return errs.ErrNotConn
	case unix.EHOSTUNREACH, unix.ENETUNREACH:
		return errs.ErrHostUnreach
	case unix.EAGAIN:
		return errs.ErrAgain
	default:
		return fmt.Errorf("syscall: %w", err)
	}
}
