package game

import (
	"errors"
	"fmt"
)

var (
	ErrAuthFailure           = errors.New("identity unavailable")
	ErrRoomCreationExhausted = errors.New("could not find a free room code")
	ErrRoomNotFound          = errors.New("room not found")
	ErrSubscriptionFailure   = errors.New("live update failed")
	ErrActionFailure         = errors.New("action failed")

	ErrInvalidPhase  = errors.New("invalid phase for action")
	ErrRoundRevealed = errors.New("round already revealed")
	ErrInvalidVote   = errors.New("invalid card value")
	ErrInvalidName   = errors.New("invalid name")
	ErrInvalidCode   = errors.New("invalid room code")
	ErrNotInRoom     = errors.New("not in a room")
)

func wrap(kind error, err error) error {
	return fmt.Errorf("%w: %w", kind, err)
}
