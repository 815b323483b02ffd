package game

import (
	"context"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/norm1388/norms-planning-poker/internal/docstore"
	"github.com/norm1388/norms-planning-poker/internal/identity"
	"github.com/norm1388/norms-planning-poker/internal/metrics"
)

// Coordinator writes rounds and votes. When a StateReader is attached, each
// action is checked against the last observed state of the same room before
// anything is written.
type Coordinator struct {
	store    docstore.Store
	ids      identity.Provider
	clock    clockwork.Clock
	observed StateReader
}

func NewCoordinator(st docstore.Store, ids identity.Provider) *Coordinator {
	return &Coordinator{store: st, ids: ids, clock: clockwork.NewRealClock()}
}

func (c *Coordinator) SetClock(clock clockwork.Clock) {
	c.clock = clock
}

// SetStateReader guards actions against the caller's last observed state.
func (c *Coordinator) SetStateReader(r StateReader) {
	c.observed = r
}

// guard returns the observed snapshot for code, if any, after checking
// that a may be applied to it.
func (c *Coordinator) guard(code string, a Action) (Snapshot, bool, error) {
	if c.observed == nil {
		return Snapshot{}, false, nil
	}
	snap := c.observed.Snapshot()
	if snap.Code != code || snap.Room == nil {
		return Snapshot{}, false, nil
	}
	if _, err := Next(snap.Phase, a); err != nil {
		return snap, true, err
	}
	return snap, true, nil
}

func (c *Coordinator) uid(ctx context.Context) (string, error) {
	uid, err := c.ids.UID(ctx)
	if err != nil {
		return "", wrap(ErrAuthFailure, err)
	}
	return uid, nil
}

// StartRound adds a round and then points the room at it. The two writes
// are independent: a failure after the first leaves an unreferenced round.
func (c *Coordinator) StartRound(ctx context.Context, code, ticket string) (string, error) {
	code = NormalizeCode(code)
	if _, _, err := c.guard(code, ActionStart); err != nil {
		return "", err
	}
	uid, err := c.uid(ctx)
	if err != nil {
		return "", err
	}
	now := c.clock.Now().UTC()
	f, err := docstore.FieldsOf(Round{CreatedAt: now, CreatedBy: uid, Ticket: strings.TrimSpace(ticket), Revealed: false})
	if err != nil {
		return "", wrap(ErrActionFailure, err)
	}
	roundID, err := c.store.Add(ctx, roundsPath(code), f)
	if err != nil {
		return "", writeError("start_round", code, err)
	}
	err = c.store.Update(ctx, roomPath(code), docstore.Fields{
		"currentRoundId": docstore.Value(roundID),
		"updatedAt":      docstore.Value(now),
	})
	if err != nil {
		log.Warn().Err(err).Str("code", code).Str("roundId", roundID).Msg("round created but not referenced")
		return "", writeError("start_round", code, err)
	}
	metrics.RoundsStarted.Inc()
	log.Info().Str("code", code).Str("roundId", roundID).Msg("round started")
	return roundID, nil
}

// RevealRound flips revealed to true. Nothing ever writes it back to false.
func (c *Coordinator) RevealRound(ctx context.Context, code, roundID string) error {
	code = NormalizeCode(code)
	snap, ok, err := c.guard(code, ActionReveal)
	if err != nil {
		return err
	}
	if ok && snap.Room.CurrentRound() != roundID {
		return ErrInvalidPhase
	}
	err = c.store.Update(ctx, roundPath(code, roundID), docstore.Fields{"revealed": docstore.Value(true)})
	if err != nil {
		return writeError("reveal_round", code, err)
	}
	log.Info().Str("code", code).Str("roundId", roundID).Msg("round revealed")
	return nil
}

// ClearCurrentRound detaches the current round from the room. The round and
// its votes stay in the store.
func (c *Coordinator) ClearCurrentRound(ctx context.Context, code string) error {
	code = NormalizeCode(code)
	if _, _, err := c.guard(code, ActionClear); err != nil {
		return err
	}
	err := c.store.Update(ctx, roomPath(code), docstore.Fields{
		"currentRoundId": docstore.Value(nil),
		"updatedAt":      docstore.Value(c.clock.Now().UTC()),
	})
	if err != nil {
		return writeError("clear_round", code, err)
	}
	log.Info().Str("code", code).Msg("round cleared")
	return nil
}

// CastVote writes the caller's vote for roundID, replacing any earlier one.
func (c *Coordinator) CastVote(ctx context.Context, code, roundID string, value int) error {
	if !ValidCard(value) {
		return ErrInvalidVote
	}
	code = NormalizeCode(code)
	snap, ok, err := c.guard(code, ActionVote)
	if err != nil {
		return err
	}
	if ok && snap.Room.CurrentRound() != roundID {
		return ErrInvalidPhase
	}
	uid, err := c.uid(ctx)
	if err != nil {
		return err
	}
	f, err := docstore.FieldsOf(Vote{UID: uid, Value: value, CreatedAt: c.clock.Now().UTC()})
	if err != nil {
		return wrap(ErrActionFailure, err)
	}
	if err := c.store.Set(ctx, votePath(code, roundID, uid), f); err != nil {
		return writeError("cast_vote", code, err)
	}
	metrics.VotesCast.Inc()
	log.Debug().Str("code", code).Str("roundId", roundID).Str("uid", uid).Msg("vote cast")
	return nil
}
