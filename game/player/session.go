package player

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	sendQueue = 256

	chatEvery = time.Second
	chatBurst = 3

	// A stalled client logs one warning per dropLogEvery discarded packets.
	dropLogEvery = 64
)

// Packet is the envelope of every WS frame in both directions. Client
// packets carry an increasing Seq; server packets leave it zero.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Session is one WebSocket client attached to an encounter.
// Spectator sessions have PlayerID 0.
type Session struct {
	EncounterID string
	PlayerID    int64
	Role        string

	Conn     *websocket.Conn
	SendChan chan []byte
	Done     chan struct{}

	// Set by the dispatcher; only touched from the read goroutine.
	TraceID string
	LastSeq uint64

	mu       sync.Mutex
	lastSent uint64 // state seq last pushed
	chat     *rate.Limiter

	dropped atomic.Uint64
	once    sync.Once
	logger  *zap.Logger
}

// NewSession wraps conn and starts its writer.
func NewSession(encounterID string, playerID int64, role string, conn *websocket.Conn, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		EncounterID: encounterID,
		PlayerID:    playerID,
		Role:        role,
		Conn:        conn,
		SendChan:    make(chan []byte, sendQueue),
		Done:        make(chan struct{}),
		logger:      logger.With(zap.String("encounter_id", encounterID), zap.Int64("player_id", playerID)),
	}
	go s.writeLoop()
	return s
}

// IsPlayer reports whether the session controls a pawn.
func (s *Session) IsPlayer() bool { return s.PlayerID != 0 }

// Send marshals pkt and queues it.
func (s *Session) Send(pkt *Packet) {
	if s.IsClosed() {
		return
	}
	if data, err := json.Marshal(pkt); err == nil {
		s.SendRaw(data)
	}
}

// SendRaw queues an encoded frame without blocking. Frames for a closed
// session are ignored; frames for a full queue are dropped and counted.
func (s *Session) SendRaw(data []byte) {
	if s.IsClosed() {
		return
	}
	select {
	case s.SendChan <- data:
		return
	case <-s.Done:
		return
	default:
	}
	n := s.dropped.Add(1)
	if n%dropLogEvery == 1 && s.logger != nil {
		s.logger.Warn("client too slow, dropping packet", zap.Uint64("dropped", n))
	}
}

// Dropped reports how many frames never reached the queue.
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}

// SendError reports a failed request back to the client. ref is the type of
// the request that failed, if known.
func (s *Session) SendError(ref, msg string) {
	payload, _ := json.Marshal(struct {
		Ref   string `json:"ref"`
		Error string `json:"error"`
	}{ref, msg})
	s.Send(&Packet{Type: "error", Payload: payload})
}

// Pong answers a client heartbeat with both clocks so the client can
// estimate latency.
func (s *Session) Pong(clientTS int64) {
	payload, _ := json.Marshal(struct {
		ClientTS int64 `json:"client_ts"`
		ServerTS int64 `json:"server_ts"`
	}{clientTS, time.Now().UnixMilli()})
	s.Send(&Packet{Type: "pong", Payload: payload})
}

// MarkPushed records seq as the last state sequence delivered and
// reports whether it is newer than the previous one.
func (s *Session) MarkPushed(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != 0 && seq <= s.lastSent {
		return false
	}
	s.lastSent = seq
	return true
}

// AllowChat reports whether the session may send another chat message now.
func (s *Session) AllowChat() bool {
	s.mu.Lock()
	if s.chat == nil {
		s.chat = rate.NewLimiter(rate.Every(chatEvery), chatBurst)
	}
	l := s.chat
	s.mu.Unlock()
	return l.Allow()
}

// Close stops the writer after it flushes queued frames. Safe to call more
// than once and from any goroutine.
func (s *Session) Close() {
	s.once.Do(func() { close(s.Done) })
}

// IsClosed reports whether Close has been called.
func (s *Session) IsClosed() bool {
	select {
	case <-s.Done:
		return true
	default:
		return false
	}
}
