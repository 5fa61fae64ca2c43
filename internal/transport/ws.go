package transport

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/Courier/internal/errs"
)

// The WebSocket transport runs pumped: a blocking gorilla connection bridged
// to the session by reader/writer goroutines instead of a poller-driven
// engine. Each binary WebSocket message carries one batch of wire frames.

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WSConn is one WebSocket connection carrying framed batches.
type WSConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

// ReadBatch blocks for the next binary message.
func (c *WSConn) ReadBatch() ([]byte, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("ws read: %w", errs.ErrNotConn)
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

// WriteBatch sends one batch as a binary message.
func (c *WSConn) WriteBatch(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return fmt.Errorf("ws write: %w", errs.ErrNotConn)
	}
	return nil
}

// Close tears the connection down, attempting a close handshake first.
func (c *WSConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(100*time.Millisecond))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// WSListener upgrades inbound HTTP connections and queues them for Accept.
type WSListener struct {
	srv    *http.Server
	ln     net.Listener
	conns  chan *WSConn
	closed chan struct{}
	once   sync.Once
}

// ListenWS serves WebSocket upgrades at host:port/path.
func ListenWS(addr string) (*WSListener, error) {
	hostport, path := splitWSAddr(addr)
	ln, err := net.Listen("tcp", hostport)
	if err != nil {
		return nil, mapNetErr(err)
	}

	l := &WSListener{
		conns:  make(chan *WSConn, 16),
		closed: make(chan struct{}),
		ln:     ln,
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		select {
		case l.conns <- &WSConn{conn: conn}:
		case <-l.closed:
			conn.Close()
		}
	})
	l.srv = &http.Server{Handler: mux}
	go l.srv.Serve(ln)
	return l, nil
}

// Accept blocks for the next upgraded connection.
func (l *WSListener) Accept() (*WSConn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, errs.ErrNotSock
	}
}

// Addr returns the effective endpoint.
func (l *WSListener) Addr() string {
	return SchemeWS + "://" + l.ln.Addr().String()
}

func (l *WSListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return l.srv.Close()
}

// ConnectWS dials a WebSocket endpoint.
func ConnectWS(addr string, timeout time.Duration) (*WSConn, error) {
	hostport, path := splitWSAddr(addr)
	d := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := d.Dial("ws://"+hostport+path, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial %s: %w", addr, errs.ErrConnRefused)
	}
	return &WSConn{conn: conn}, nil
}

func splitWSAddr(addr string) (hostport, path string) {
	for i := 0; i < len(addr); i++ {
		if addr[i] == '/' {
			return addr[:i], addr[i:]
		}
	}
	return addr, "/"
}

// mapNetErr unwraps a net error down to its errno and reuses the syscall
// mapping.
func mapNetErr(err error) error {
	if err == nil {
		return nil
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return mapSysErr(errno)
	}
	return err
}
