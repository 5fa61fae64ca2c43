//go:build linux

package transport

import (
	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/Courier/internal/errs"
)

func newStreamSocket(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, mapSysErr(err)
	}
	return fd, nil
}

func acceptConn(fd int) (int, error) {
	for {
		nfd, _, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return -1, errs.ErrAgain
		case err != nil:
			return -1, mapSysErr(err)
		default:
			return nfd, nil
		}
	}
}
