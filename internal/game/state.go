package game

// Action is a host or participant request against a room's round state.
type Action string

const (
	ActionStart  Action = "start"
	ActionReveal Action = "reveal"
	ActionClear  Action = "clear"
	ActionVote   Action = "vote"
)

// Next validates a transition and returns the resulting phase. A new round
// can only be opened from NoRound; a revealed round must be cleared first.
func Next(from Phase, a Action) (Phase, error) {
	switch from {
	case PhaseNoRound:
		if a == ActionStart {
			return PhaseRoundOpen, nil
		}
	case PhaseRoundOpen:
		switch a {
		case ActionReveal:
			return PhaseRoundRevealed, nil
		case ActionClear:
			return PhaseNoRound, nil
		case ActionVote:
			return PhaseRoundOpen, nil
		}
	case PhaseRoundRevealed:
		switch a {
		case ActionClear:
			return PhaseNoRound, nil
		case ActionVote:
			return from, ErrRoundRevealed
		}
	}
	return from, ErrInvalidPhase
}

// StateReader exposes the last state a client observed for its room.
type StateReader interface {
	Snapshot() Snapshot
}
