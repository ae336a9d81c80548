package peersession

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	events []Event
}

func (r *recordingListener) OnEvent(peerID string, ev Event) {
	r.events = append(r.events, ev)
}

func TestFakeSessionSendJSON(t *testing.T) {
	s := NewFakeSession("peer1")
	require.NoError(t, s.SendJSON(ChunkUpload{Type: TypeChunkUpload, ManifestID: "m1"}))
	assert.Len(t, s.SentJSON, 1)
}

func TestFakeSessionClosedRejectsSend(t *testing.T) {
	s := NewFakeSession("peer1")
	require.NoError(t, s.Close())

	err := s.SendJSON(ChunkUpload{})
	assert.ErrorIs(t, err, ErrChannelNotOpen)

	err = s.SendBinary([]byte("x"))
	assert.ErrorIs(t, err, ErrChannelNotOpen)
}

func TestFakeSessionCloseEmitsClosedEvent(t *testing.T) {
	s := NewFakeSession("peer1")
	l := &recordingListener{}
	s.SetListener(l)

	require.NoError(t, s.Close())
	require.Len(t, l.events, 1)
	assert.Equal(t, EventClosed, l.events[0].Kind)

	// closing twice must not double-emit
	require.NoError(t, s.Close())
	assert.Len(t, l.events, 1)
}

func TestFakeSessionDeliverInboundMessage(t *testing.T) {
	s := NewFakeSession("peer1")
	l := &recordingListener{}
	s.SetListener(l)

	s.Deliver(Event{Kind: EventMessage, Message: Message{Kind: MessageText, Data: []byte(`{"type":"chunk-upload-ack"}`)}})
	require.Len(t, l.events, 1)
	assert.Equal(t, EventMessage, l.events[0].Kind)
}

func TestFakeSessionBufferedAmountSimulatesBackpressure(t *testing.T) {
	s := NewFakeSession("peer1")
	s.SetBufferedAmount(600_000)
	assert.Equal(t, uint64(600_000), s.BufferedAmount())
}
