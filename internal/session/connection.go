package session

import (
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Session is one live player connection. Every write to the WebSocket
// connection happens on the write pump goroutine; readPump only reads.
type Session struct {
	id     string
	conn   *websocket.Conn
	send   chan map[string]interface{}
	closed chan struct{}
}

func newSession(conn *websocket.Conn) *Session {
	return &Session{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan map[string]interface{}, 32),
		closed: make(chan struct{}),
	}
}

// enqueue is non-blocking: a session whose send buffer is full drops the
// frame rather than stalling the caller (which may be a broadcast loop
// serving every other session).
func (s *Session) enqueue(frame map[string]interface{}) {
	select {
	case s.send <- frame:
	default:
	}
}
