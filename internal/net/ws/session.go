package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	defaultSendQueue      = 256
	defaultMaxMessageSize = 4096
)

// Session is one websocket connection. Outbound frames pass through a
// bounded queue drained by the write pump; the hub never blocks on a slow
// consumer.
type Session struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newSession(id string, conn *websocket.Conn, queue int) *Session {
	if queue <= 0 {
		queue = defaultSendQueue
	}
	return &Session{
		id:   id,
		conn: conn,
		send: make(chan []byte, queue),
		done: make(chan struct{}),
	}
}

// ID returns the connection identifier.
func (s *Session) ID() string {
	return s.id
}

// Send queues data without blocking. It reports false when the queue is
// full or the session has been closed; the frame is dropped in both cases.
func (s *Session) Send(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which flushes queued frames and sends a close
// frame. It is safe to call more than once.
func (s *Session) Close() {
	s.once.Do(func() { close(s.done) })
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data := <-s.send:
			if err := s.write(websocket.TextMessage, data); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			s.flush()
			s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (s *Session) flush() {
	for {
		select {
		case data := <-s.send:
			if err := s.write(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) write(messageType int, data []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}
