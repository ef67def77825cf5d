package position

import (
	"fmt"

	"github.com/park285/jstockfish-go/internal/chess"
)

// State classifies a position. Values from Alive to CanDrawRepetition follow
// the engine's ordinal order; Undetermined is local.
type State int

const (
	Alive State = iota
	// WhiteMate: white has delivered checkmate.
	WhiteMate
	BlackMate
	// WhiteStalemate: white's last move stalemated black.
	WhiteStalemate
	BlackStalemate
	// DrawNoMate: neither side has mating material.
	DrawNoMate
	CanDraw50
	CanDrawRepetition

	stateCount

	Undetermined State = -1
)

var stateNames = [stateCount]string{
	"alive",
	"white_mate",
	"black_mate",
	"white_stalemate",
	"black_stalemate",
	"draw_no_mate",
	"can_draw_50",
	"can_draw_repetition",
}

// StateFromOrdinal maps an engine ordinal onto State. Ordinals outside the
// known range mean the engine speaks a different contract version.
func StateFromOrdinal(n int) (State, error) {
	if n < 0 || n >= int(stateCount) {
		return Undetermined, chess.Mismatch("state", fmt.Errorf("ordinal %d outside [0,%d)", n, int(stateCount)))
	}
	return State(n), nil
}

// States lists the engine-assigned states in ordinal order.
func States() []State {
	out := make([]State, stateCount)
	for i := range out {
		out[i] = State(i)
	}
	return out
}

func (s State) String() string {
	if s == Undetermined {
		return "undetermined"
	}
	if s < 0 || s >= stateCount {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether the game is over without a claim.
func (s State) Terminal() bool {
	switch s {
	case WhiteMate, BlackMate, WhiteStalemate, BlackStalemate, DrawNoMate:
		return true
	}
	return false
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(text []byte) error {
	name := string(text)
	if name == "undetermined" {
		*s = Undetermined
		return nil
	}
	for i, n := range stateNames {
		if n == name {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", name)
}
