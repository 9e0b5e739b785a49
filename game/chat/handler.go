// Package chat carries text messages between the players and spectators of
// one encounter.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kasuganosora/coopwave/server/cache"
	"github.com/kasuganosora/coopwave/server/game/ai"
	"github.com/kasuganosora/coopwave/server/game/player"
	"github.com/kasuganosora/coopwave/server/game/world"
	"go.uber.org/zap"
)

const (
	maxMsgLen  = 200
	historyLen = 50
	historyTTL = time.Hour
)

var (
	ErrTooLong     = errors.New("message too long")
	ErrTooFast     = errors.New("sending too fast")
	ErrNoEncounter = errors.New("encounter not found")
)

// Channel is the pub/sub channel carrying chat for one encounter.
func Channel(encounterID string) string {
	return fmt.Sprintf("encounter:%s:chat", encounterID)
}

// HistoryKey is the List holding the most recent messages, newest first.
func HistoryKey(encounterID string) string {
	return fmt.Sprintf("encounter:%s:chat:history", encounterID)
}

// Message is one chat line.
type Message struct {
	EncounterID string `json:"encounter_id"`
	FromID      int64  `json:"from_id,omitempty"`
	FromName    string `json:"from_name"`
	Role        string `json:"role"`
	Content     string `json:"content"`
	TS          int64  `json:"ts"`
}

// Handler handles chat_send WS messages.
type Handler struct {
	cache  cache.Cache
	pubsub cache.PubSub
	sm     *player.SessionManager
	mgr    *world.Manager
	logger *zap.Logger
}

// NewHandler creates a new chat Handler. c and ps may be nil, which turns
// off history and cross-node fan-out respectively.
func NewHandler(c cache.Cache, ps cache.PubSub, sm *player.SessionManager, mgr *world.Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{cache: c, pubsub: ps, sm: sm, mgr: mgr, logger: logger}
}

type chatSendReq struct {
	Content string `json:"content"`
}

// HandleSend processes a chat_send WS message.
func (h *Handler) HandleSend(ctx context.Context, s *player.Session, raw json.RawMessage) error {
	var req chatSendReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	req.Content = strings.TrimSpace(req.Content)
	if len(req.Content) == 0 {
		return nil
	}
	if len([]rune(req.Content)) > maxMsgLen {
		return ErrTooLong
	}
	arena := h.mgr.Get(s.EncounterID)
	if arena == nil {
		return ErrNoEncounter
	}
	if !s.AllowChat() {
		return ErrTooFast
	}

	msg := Message{
		EncounterID: s.EncounterID,
		FromID:      s.PlayerID,
		FromName:    displayName(arena, s),
		Role:        s.Role,
		Content:     req.Content,
		TS:          time.Now().UnixMilli(),
	}
	msgJSON, _ := json.Marshal(msg)
	h.sm.BroadcastPacket(s.EncounterID, &player.Packet{Type: "chat_recv", Payload: msgJSON})

	if h.pubsub != nil {
		if err := h.pubsub.Publish(ctx, Channel(s.EncounterID), string(msgJSON)); err != nil {
			h.logger.Warn("chat publish failed", zap.String("encounter_id", s.EncounterID), zap.Error(err))
		}
	}
	if h.cache != nil {
		h.remember(ctx, s.EncounterID, string(msgJSON))
	}
	return nil
}

// remember keeps the newest historyLen messages and lets the list lapse an
// hour after the last line.
func (h *Handler) remember(ctx context.Context, encounterID, msg string) {
	key := HistoryKey(encounterID)
	if err := h.cache.LPush(ctx, key, msg); err != nil {
		h.logger.Warn("chat history write failed", zap.String("key", key), zap.Error(err))
		return
	}
	_ = h.cache.LTrim(ctx, key, 0, historyLen-1)
	if err := h.cache.Expire(ctx, key, historyTTL); err != nil && !cache.IsNotFound(err) {
		h.logger.Warn("chat history expire failed", zap.String("key", key), zap.Error(err))
	}
}

func displayName(a *world.Arena, s *player.Session) string {
	if !s.IsPlayer() {
		return "spectator"
	}
	if name, ok := a.PlayerName(ai.EntityID(s.PlayerID)); ok {
		return name
	}
	return fmt.Sprintf("player-%d", s.PlayerID)
}

// History returns up to count recent messages, oldest first.
func (h *Handler) History(ctx context.Context, encounterID string, count int64) ([]Message, error) {
	if h.cache == nil || count <= 0 {
		return nil, nil
	}
	raw, err := h.cache.LRange(ctx, HistoryKey(encounterID), 0, count-1)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var m Message
		if err := json.Unmarshal([]byte(raw[i]), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// SendHistory pushes the last count messages to a newly connected session.
func (h *Handler) SendHistory(ctx context.Context, s *player.Session, count int64) {
	msgs, err := h.History(ctx, s.EncounterID, count)
	if err != nil {
		h.logger.Warn("chat history failed", zap.String("encounter_id", s.EncounterID), zap.Error(err))
		return
	}
	for _, m := range msgs {
		payload, _ := json.Marshal(m)
		s.Send(&player.Packet{Type: "chat_recv", Payload: payload})
	}
}
