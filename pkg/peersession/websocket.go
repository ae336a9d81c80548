package peersession

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebsocketSession is the one concrete Session adapter this engine ships:
// an ordered, reliable byte stream over a gorilla/websocket connection.
// It is not a WebRTC data channel — real NAT traversal stays an external
// concern per spec.md §1 — but it satisfies the same contract, so a
// production deployment can swap in a real data-channel adapter without
// touching the Scheduler or Retriever.
type WebsocketSession struct {
	peerID string
	conn   *websocket.Conn
	log    *zap.Logger

	mu       sync.Mutex
	listener Listener
	open     int32
	buffered int64
}

// NewWebsocketSession wraps an already-established websocket connection
// for peerID and starts its read loop.
func NewWebsocketSession(peerID string, conn *websocket.Conn, log *zap.Logger) *WebsocketSession {
	if log == nil {
		log = zap.NewNop()
	}
	s := &WebsocketSession{
		peerID: peerID,
		conn:   conn,
		log:    log,
		open:   1,
	}
	go s.readLoop()
	return s
}

func (s *WebsocketSession) PeerID() string { return s.peerID }

func (s *WebsocketSession) IsOpen() bool {
	return atomic.LoadInt32(&s.open) == 1
}

func (s *WebsocketSession) BufferedAmount() uint64 {
	v := atomic.LoadInt64(&s.buffered)
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func (s *WebsocketSession) SendJSON(value interface{}) error {
	if !s.IsOpen() {
		return ErrChannelNotOpen
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	atomic.AddInt64(&s.buffered, int64(len(data)))
	err = s.conn.WriteMessage(websocket.TextMessage, data)
	atomic.AddInt64(&s.buffered, -int64(len(data)))
	if err != nil {
		s.markClosed(err)
		return err
	}
	return nil
}

func (s *WebsocketSession) SendBinary(data []byte) error {
	if !s.IsOpen() {
		return ErrChannelNotOpen
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	atomic.AddInt64(&s.buffered, int64(len(data)))
	err := s.conn.WriteMessage(websocket.BinaryMessage, data)
	atomic.AddInt64(&s.buffered, -int64(len(data)))
	if err != nil {
		s.markClosed(err)
		return err
	}
	return nil
}

func (s *WebsocketSession) Close() error {
	if atomic.CompareAndSwapInt32(&s.open, 1, 0) {
		s.emit(Event{Kind: EventClosed})
		return s.conn.Close()
	}
	return nil
}

func (s *WebsocketSession) SetListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

func (s *WebsocketSession) readLoop() {
	s.emit(Event{Kind: EventOpened})
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			s.markClosed(err)
			return
		}

		var mk MessageKind
		switch kind {
		case websocket.TextMessage:
			mk = MessageText
		case websocket.BinaryMessage:
			mk = MessageBinary
		default:
			continue
		}

		s.emit(Event{Kind: EventMessage, Message: Message{Kind: mk, Data: data}})
	}
}

func (s *WebsocketSession) markClosed(err error) {
	if atomic.CompareAndSwapInt32(&s.open, 1, 0) {
		s.log.Debug("peer session closed", zap.String("peer_id", s.peerID), zap.Error(err))
		s.emit(Event{Kind: EventClosed, Err: err})
	}
}

func (s *WebsocketSession) emit(ev Event) {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		l.OnEvent(s.peerID, ev)
	}
}
