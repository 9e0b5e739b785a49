package player

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	idleTimeout  = 60 * time.Second
	pingEvery    = idleTimeout / 2
	maxFrameSize = 16 << 10
)

func (s *Session) write(kind int, data []byte) error {
	_ = s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.Conn.WriteMessage(kind, data)
}

// writeLoop owns all writes to Conn. It pings the client so ReadLoop sees
// traffic on an otherwise quiet connection, and closes Conn when it exits.
func (s *Session) writeLoop() {
	ping := time.NewTicker(pingEvery)
	defer func() {
		ping.Stop()
		_ = s.Conn.Close()
	}()

	for {
		select {
		case data := <-s.SendChan:
			if err := s.write(websocket.TextMessage, data); err != nil {
				s.logger.Warn("ws write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.Done:
			s.flush()
			_ = s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes frames queued before Close so a final packet is not lost.
func (s *Session) flush() {
	for {
		select {
		case data := <-s.SendChan:
			if s.write(websocket.TextMessage, data) != nil {
				return
			}
		default:
			return
		}
	}
}

// ReadLoop passes each inbound frame to handle until the connection fails
// or the client goes quiet for too long. Any frame or pong keeps it alive.
// It returns the read error; a normal close is reported as nil.
func (s *Session) ReadLoop(handle func(raw []byte)) error {
	s.Conn.SetReadLimit(maxFrameSize)
	alive := func() { _ = s.Conn.SetReadDeadline(time.Now().Add(idleTimeout)) }
	alive()
	s.Conn.SetPongHandler(func(string) error {
		alive()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			return err
		}
		alive()
		handle(raw)
	}
}
