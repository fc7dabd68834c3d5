package widget

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

var errSocketClosed = errors.New("widget: socket closed")

type outbound struct {
	kind int
	data []byte
}

// socket serializes writes to a websocket connection through one writer
// goroutine, as gorilla/websocket requires.
type socket struct {
	conn   *websocket.Conn
	out    chan outbound
	closed chan struct{}
	once   sync.Once
	log    zerolog.Logger
}

func newSocket(conn *websocket.Conn, log zerolog.Logger) *socket {
	return &socket{
		conn:   conn,
		out:    make(chan outbound, 256),
		closed: make(chan struct{}),
		log:    log,
	}
}

func (s *socket) sendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueue(outbound{kind: websocket.TextMessage, data: b})
}

func (s *socket) sendBinary(b []byte) error {
	return s.enqueue(outbound{kind: websocket.BinaryMessage, data: b})
}

func (s *socket) enqueue(o outbound) error {
	select {
	case <-s.closed:
		return errSocketClosed
	default:
	}
	select {
	case s.out <- o:
		return nil
	case <-s.closed:
		return errSocketClosed
	}
}

// close stops the writer and closes the connection, which also unblocks
// the reader.
func (s *socket) close() {
	s.once.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

func (s *socket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.closed:
			return
		case o := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(o.kind, o.data); err != nil {
				s.log.Debug().Err(err).Msg("socket write failed")
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}

// prepareRead limits frame size and extends the read deadline on every pong.
func (s *socket) prepareRead() {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}
