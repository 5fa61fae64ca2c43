package transport

import (
	"os"

	"golang.org/x/sys/unix"
)

// ipcListener accepts connections on a filesystem socket.
type ipcListener struct {
	fd   int
	path string
}

// ListenIPC binds a filesystem socket at path, replacing a stale one.
func ListenIPC(path string) (StreamListener, error) {
	fd, err := newStreamSocket(unix.AF_UNIX)
	if err != nil {
		return nil, err
	}
	// A previous owner may have left the inode behind; only an active
	// listener makes bind fail after this.
	_ = os.Remove(path)
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		sysClose(fd)
		return nil, mapSysErr(err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		sysClose(fd)
		return nil, mapSysErr(err)
	}
	return &ipcListener{fd: fd, path: path}, nil
}

func (l *ipcListener) Fd() int { return l.fd }

func (l *ipcListener) Accept() (int, error) { return acceptConn(l.fd) }

func (l *ipcListener) Addr() string { return SchemeIPC + "://" + l.path }

func (l *ipcListener) Close() error {
	err := unix.Close(l.fd)
	_ = os.Remove(l.path)
	return err
}

// ConnectIPC starts a non-blocking connect to a filesystem socket.
func ConnectIPC(path string) (*Pending, error) {
	fd, err := newStreamSocket(unix.AF_UNIX)
	if err != nil {
		return nil, err
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil &&
		err != unix.EINPROGRESS && err != unix.EAGAIN {
		sysClose(fd)
		return nil, mapSysErr(err)
	}
	return &Pending{fd: fd}, nil
}
