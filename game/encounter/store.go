package encounter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kasuganosora/coopwave/server/game/ai"
	"go.uber.org/zap"
)

// ErrNotAuthority is returned when a non-authoritative caller tries to write.
var ErrNotAuthority = errors.New("encounter: caller is not the authority")

// Change describes one authoritative write of the encounter state.
type Change struct {
	EncounterID string    `json:"encounter_id"`
	Seq         uint64    `json:"seq"`
	Old         State     `json:"old"`
	New         State     `json:"new"`
	At          time.Time `json:"at"`
}

// ChangeFunc observes state changes on the authority (the local "on replicated" call).
type ChangeFunc func(c Change)

// Replicator transmits changes to remote observers.
type Replicator interface {
	Replicate(ctx context.Context, c Change) error
}

// View is the read-only face of a Store handed to observers.
type View interface {
	Current() State
	Seq() uint64
}

// Store holds the single replicated encounter state value.
// The director is its only writer.
type Store struct {
	mu          sync.RWMutex
	encounterID string
	state       State
	seq         uint64
	replicator  Replicator
	listeners   []ChangeFunc
	logger      *zap.Logger
	now         func() time.Time
}

// NewStore creates a Store starting in WaitingToStart. rep may be nil when
// nothing remote observes this encounter.
func NewStore(encounterID string, rep Replicator, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		encounterID: encounterID,
		state:       WaitingToStart,
		replicator:  rep,
		logger:      logger,
		now:         time.Now,
	}
}

// EncounterID returns the encounter this store belongs to.
func (s *Store) EncounterID() string { return s.encounterID }

// OnChange registers fn to be called after every authoritative write.
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Publish writes next. Only the authority may write; every authoritative
// write notifies local listeners with (new, old) and is replicated.
func (s *Store) Publish(role ai.Role, next State) error {
	if !role.IsAuthority() {
		return ErrNotAuthority
	}
	if !next.Valid() {
		return ErrUnknownState
	}

	s.mu.Lock()
	old := s.state
	s.state = next
	s.seq++
	c := Change{EncounterID: s.encounterID, Seq: s.seq, Old: old, New: next, At: s.now()}
	listeners := make([]ChangeFunc, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(c)
	}
	if s.replicator != nil {
		if err := s.replicator.Replicate(context.Background(), c); err != nil {
			s.logger.Warn("encounter state replication failed",
				zap.String("encounter_id", s.encounterID),
				zap.Stringer("state", next),
				zap.Error(err))
		}
	}
	return nil
}

// Current returns the latest state.
func (s *Store) Current() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Seq returns how many authoritative writes have happened.
func (s *Store) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// View returns a read-only view for observers.
func (s *Store) View() View { return s }
