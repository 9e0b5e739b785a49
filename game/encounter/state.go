package encounter

import (
	"errors"
	"fmt"
)

// ErrUnknownState is returned when parsing an unrecognised state name.
var ErrUnknownState = errors.New("encounter: unknown state")

// State is the replicated wave-lifecycle value observers key off of.
type State uint8

const (
	WaitingToStart State = iota
	WaveInProgress
	WaitingToComplete
	WaveComplete
	GameOver
)

var stateNames = [...]string{
	WaitingToStart:    "waiting_to_start",
	WaveInProgress:    "wave_in_progress",
	WaitingToComplete: "waiting_to_complete",
	WaveComplete:      "wave_complete",
	GameOver:          "game_over",
}

// AllStates lists the domain in declaration order.
func AllStates() []State {
	return []State{WaitingToStart, WaveInProgress, WaitingToComplete, WaveComplete, GameOver}
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Valid reports whether s is one of the five declared states.
func (s State) Valid() bool { return int(s) < len(stateNames) }

// Terminal reports whether no further transitions may follow s.
func (s State) Terminal() bool { return s == GameOver }

// ParseState converts a wire name back to a State.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownState, name)
}

func (s State) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownState, uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
