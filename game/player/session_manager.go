package player

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionManager maintains the registry of connected Sessions grouped by
// encounter.
type SessionManager struct {
	mu         sync.RWMutex
	encounters map[string]map[*Session]struct{}
	logger     *zap.Logger
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager(logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		encounters: make(map[string]map[*Session]struct{}),
		logger:     logger,
	}
}

// Register adds a session. A previous session of the same player in the same
// encounter is closed first (handles reconnect).
func (sm *SessionManager) Register(s *Session) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	set, ok := sm.encounters[s.EncounterID]
	if !ok {
		set = make(map[*Session]struct{})
		sm.encounters[s.EncounterID] = set
	}
	if s.IsPlayer() {
		for old := range set {
			if old.PlayerID == s.PlayerID {
				old.Close()
				delete(set, old)
				sm.logger.Info("duplicate session displaced",
					zap.String("encounter_id", s.EncounterID),
					zap.Int64("player_id", s.PlayerID))
			}
		}
	}
	set[s] = struct{}{}
	sm.logger.Info("session registered",
		zap.String("encounter_id", s.EncounterID),
		zap.Int64("player_id", s.PlayerID),
		zap.String("role", s.Role))
}

// Unregister removes s. Unknown sessions are ignored.
func (sm *SessionManager) Unregister(s *Session) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	set, ok := sm.encounters[s.EncounterID]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(sm.encounters, s.EncounterID)
	}
	sm.logger.Info("session unregistered",
		zap.String("encounter_id", s.EncounterID),
		zap.Int64("player_id", s.PlayerID))
}

// Count returns the number of currently connected sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	n := 0
	for _, set := range sm.encounters {
		n += len(set)
	}
	return n
}

// Encounters lists the encounters that have at least one session, sorted.
func (sm *SessionManager) Encounters() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]string, 0, len(sm.encounters))
	for id := range sm.encounters {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// In returns a snapshot slice of the sessions attached to one encounter.
func (sm *SessionManager) In(encounterID string) []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	set := sm.encounters[encounterID]
	out := make([]*Session, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

// Broadcast sends a pre-encoded packet to every session of an encounter.
// A slow client misses the packet rather than holding up the others.
func (sm *SessionManager) Broadcast(encounterID string, data []byte) {
	for _, s := range sm.In(encounterID) {
		s.SendRaw(data)
	}
}

// Dropped sums the packets dropped for slow clients over live sessions.
func (sm *SessionManager) Dropped() uint64 {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	var n uint64
	for _, set := range sm.encounters {
		for s := range set {
			n += s.Dropped()
		}
	}
	return n
}

// BroadcastPacket marshals pkt and sends it to every session of an encounter.
func (sm *SessionManager) BroadcastPacket(encounterID string, pkt *Packet) {
	data, err := json.Marshal(pkt)
	if err != nil {
		sm.logger.Error("failed to marshal broadcast packet", zap.Error(err))
		return
	}
	sm.Broadcast(encounterID, data)
}

// CloseEncounter closes every session attached to an encounter.
func (sm *SessionManager) CloseEncounter(encounterID string) {
	for _, s := range sm.In(encounterID) {
		s.Close()
	}
}

// CloseAllSessions gracefully closes all connected sessions.
func (sm *SessionManager) CloseAllSessions() {
	sm.mu.RLock()
	var sessions []*Session
	for _, set := range sm.encounters {
		for s := range set {
			sessions = append(sessions, s)
		}
	}
	sm.mu.RUnlock()

	sm.logger.Info("closing all sessions", zap.Int("count", len(sessions)))
	for _, s := range sessions {
		s.Close()
	}

	// Wait for read pumps to unregister (with timeout).
	maxWait := 10 * time.Second
	start := time.Now()
	for time.Since(start) < maxWait {
		if sm.Count() == 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
}
