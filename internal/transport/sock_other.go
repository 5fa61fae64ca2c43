//go:build unix && !linux

package transport

import (
	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/Courier/internal/errs"
)

func newStreamSocket(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, mapSysErr(err)
	}
	if err := prepareFd(fd); err != nil {
		sysClose(fd)
		return -1, err
	}
	return fd, nil
}

func acceptConn(fd int) (int, error) {
	for {
		nfd, _, err := unix.Accept(fd)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return -1, errs.ErrAgain
		case err != nil:
			return -1, mapSysErr(err)
		}
		if err := prepareFd(nfd); err != nil {
			sysClose(nfd)
			return -1, err
		}
		return nfd, nil
	}
}

func prepareFd(fd int) error {
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		return mapSysErr(err)
	}
	return nil
}
