// Package peersession abstracts a single ordered, reliable, bidirectional
// byte channel to one remote peer (spec.md §4.5). The transport beneath
// the interface is deliberately out of scope for this engine: real
// deployments plug in whatever NAT-traversing substrate they like, the
// way the teacher's Client/pkg/overlay models its P2P substrate behind
// an Adapter interface.
package peersession

import "errors"

// ErrChannelNotOpen is returned by sendJson/sendBinary when the
// underlying channel is not open.
var ErrChannelNotOpen = errors.New("peersession: channel not open")

// EventKind enumerates the event types a Session delivers to its
// listener.
type EventKind int

const (
	EventOpened EventKind = iota
	EventClosed
	EventMessage
	EventError
)

// MessageKind distinguishes text (JSON) frames from binary payload
// frames in a Message event.
type MessageKind int

const (
	MessageText MessageKind = iota
	MessageBinary
)

// Event is delivered to a Session's listener for opened/closed/message/
// error occurrences.
type Event struct {
	Kind    EventKind
	Message Message
	Err     error
}

// Message carries the payload of an EventMessage event.
type Message struct {
	Kind MessageKind
	Data []byte
}

// Listener receives Session events. Implementations must not block for
// long inside OnEvent; the session delivers events from its own read
// loop.
type Listener interface {
	OnEvent(peerID string, ev Event)
}

// Session abstracts one ordered, reliable, bidirectional byte channel to
// a remote peer.
type Session interface {
	// PeerID identifies the remote end of this session.
	PeerID() string

	// SendJSON serializes value to UTF-8 JSON text and sends it.
	SendJSON(value interface{}) error

	// SendBinary pushes an opaque binary frame.
	SendBinary(data []byte) error

	// BufferedAmount returns bytes queued at the transport, for
	// backpressure decisions.
	BufferedAmount() uint64

	// IsOpen reports whether the channel can currently send.
	IsOpen() bool

	// Close releases the underlying transport.
	Close() error

	// SetListener installs (or replaces) the event listener.
	SetListener(l Listener)
}
