package peersession

import (
	"encoding/json"
	"sync"
)

// FakeSession is an in-process Session double, grounded on the teacher's
// Client/pkg/overlay basicAdapter stub: a minimal implementation of the
// interface contract useful for deterministic tests without a real
// transport.
type FakeSession struct {
	mu       sync.Mutex
	peerID   string
	open     bool
	buffered uint64
	listener Listener

	SentJSON   []interface{}
	SentBinary [][]byte

	// FailSend, when set, makes SendJSON/SendBinary return this error
	// instead of succeeding - used to simulate a channel that rejects
	// writes without actually closing.
	FailSend error
}

// NewFakeSession creates an open FakeSession for peerID.
func NewFakeSession(peerID string) *FakeSession {
	return &FakeSession{peerID: peerID, open: true}
}

func (f *FakeSession) PeerID() string { return f.peerID }

func (f *FakeSession) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *FakeSession) BufferedAmount() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buffered
}

// SetBufferedAmount lets a test simulate transport backpressure.
func (f *FakeSession) SetBufferedAmount(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffered = n
}

func (f *FakeSession) SendJSON(value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return ErrChannelNotOpen
	}
	if f.FailSend != nil {
		return f.FailSend
	}
	// round-trip through JSON to catch unmarshalable values the way a
	// real transport would.
	if _, err := json.Marshal(value); err != nil {
		return err
	}
	f.SentJSON = append(f.SentJSON, value)
	return nil
}

func (f *FakeSession) SendBinary(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return ErrChannelNotOpen
	}
	if f.FailSend != nil {
		return f.FailSend
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.SentBinary = append(f.SentBinary, cp)
	return nil
}

func (f *FakeSession) Close() error {
	f.mu.Lock()
	wasOpen := f.open
	f.open = false
	l := f.listener
	f.mu.Unlock()
	if wasOpen && l != nil {
		l.OnEvent(f.peerID, Event{Kind: EventClosed})
	}
	return nil
}

func (f *FakeSession) SetListener(l Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = l
}

// Deliver injects an inbound message as if it arrived over the wire.
func (f *FakeSession) Deliver(ev Event) {
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	if l != nil {
		l.OnEvent(f.peerID, ev)
	}
}
