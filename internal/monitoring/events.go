package monitoring

// EventType enumerates socket monitor events.
type EventType int

const (
	EventConnected EventType = iota
	EventConnectDelayed
	EventConnectRetried
	EventListening
	EventBindFailed
	EventAccepted
	EventAcceptFailed
	EventClosed
	EventCloseFailed
	EventDisconnected
	EventHandshakeSucceeded
	EventHandshakeFailedNoDetail
	EventHandshakeFailedProtocol
	EventHandshakeFailedAuth
)

var eventNames = map[EventType]string{
	EventConnected:               "connected",
	EventConnectDelayed:          "connect_delayed",
	EventConnectRetried:          "connect_retried",
	EventListening:               "listening",
	EventBindFailed:              "bind_failed",
	EventAccepted:                "accepted",
	EventAcceptFailed:            "accept_failed",
	EventClosed:                  "closed",
	EventCloseFailed:             "close_failed",
	EventDisconnected:            "disconnected",
	EventHandshakeSucceeded:      "handshake_succeeded",
	EventHandshakeFailedNoDetail: "handshake_failed_no_detail",
	EventHandshakeFailedProtocol: "handshake_failed_protocol",
	EventHandshakeFailedAuth:     "handshake_failed_auth",
}

func (t EventType) String() string {
	if s, ok := eventNames[t]; ok {
		return s
	}
	return "unknown"
}

// Event is one asynchronous monitor notification.
type Event struct {
	Type     EventType
	Endpoint string
	Err      error
}

// Emitter delivers events to an attached watcher without ever blocking the
// emitting thread; events overflow silently when the watcher lags.
type Emitter struct {
	ch chan Event
}

// NewEmitter returns an emitter buffering up to n events.
func NewEmitter(n int) *Emitter {
	return &Emitter{ch: make(chan Event, n)}
}

// Emit delivers ev if the watcher keeps up.
func (e *Emitter) Emit(ev Event) {
	if e == nil {
		return
	}
	select {
	case e.ch <- ev:
	default:
	}
}

// Events exposes the watcher side.
func (e *Emitter) Events() <-chan Event { return e.ch }
