package game

import (
	"context"
	"strings"
	"unicode"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/norm1388/norms-planning-poker/internal/docstore"
	"github.com/norm1388/norms-planning-poker/internal/identity"
	"github.com/norm1388/norms-planning-poker/internal/metrics"
)

const (
	maxCodeAttempts = 10
	maxNameLength   = 40
)

// Lobby creates and joins rooms and manages the caller's own membership.
type Lobby struct {
	store   docstore.Store
	ids     identity.Provider
	clock   clockwork.Clock
	newCode func() (string, error)
}

func NewLobby(st docstore.Store, ids identity.Provider) *Lobby {
	return &Lobby{store: st, ids: ids, clock: clockwork.NewRealClock(), newCode: GenerateCode}
}

func (l *Lobby) SetClock(c clockwork.Clock) {
	l.clock = c
}

func (l *Lobby) SetCodeGenerator(gen func() (string, error)) {
	l.newCode = gen
}

func (l *Lobby) uid(ctx context.Context) (string, error) {
	uid, err := l.ids.UID(ctx)
	if err != nil {
		return "", wrap(ErrAuthFailure, err)
	}
	return uid, nil
}

// CreateRoom creates a room under a fresh code and adds the caller as its
// first participant. A code that is already taken is detected by the
// store's create-only write and retried with a new code.
func (l *Lobby) CreateRoom(ctx context.Context, name string) (string, error) {
	name = SanitizeName(name)
	if name == "" {
		return "", ErrInvalidName
	}
	uid, err := l.uid(ctx)
	if err != nil {
		return "", err
	}

	var code string
	for attempt := 1; ; attempt++ {
		if attempt > maxCodeAttempts {
			log.Warn().Str("uid", uid).Int("attempts", maxCodeAttempts).Msg("room code attempts exhausted")
			return "", ErrRoomCreationExhausted
		}
		code, err = l.newCode()
		if err != nil {
			return "", wrap(ErrActionFailure, err)
		}
		now := l.clock.Now().UTC()
		f, err := docstore.FieldsOf(Room{Code: code, CreatedAt: now, CreatedBy: uid, UpdatedAt: now})
		if err != nil {
			return "", wrap(ErrActionFailure, err)
		}
		err = l.store.Create(ctx, roomPath(code), f)
		if err == nil {
			break
		}
		if docstore.IsAlreadyExists(err) {
			metrics.RoomCodeCollisions.Inc()
			log.Debug().Str("code", code).Int("attempt", attempt).Msg("room code taken, retrying")
			continue
		}
		metrics.ActionFailures.WithLabelValues("create_room").Inc()
		return "", wrap(ErrActionFailure, err)
	}
	metrics.RoomsCreated.Inc()
	log.Info().Str("code", code).Str("uid", uid).Msg("room created")

	if err := l.addParticipant(ctx, code, uid, name); err != nil {
		return "", err
	}
	return code, nil
}

// JoinRoom adds the caller to an existing room. Joining again updates the
// name and lastSeenAt but keeps the original joinedAt.
func (l *Lobby) JoinRoom(ctx context.Context, code, name string) error {
	code = NormalizeCode(code)
	if !ValidCode(code) {
		return wrap(ErrRoomNotFound, ErrInvalidCode)
	}
	name = SanitizeName(name)
	if name == "" {
		return ErrInvalidName
	}
	uid, err := l.uid(ctx)
	if err != nil {
		return err
	}
	if err := l.addParticipant(ctx, code, uid, name); err != nil {
		return err
	}
	metrics.Joins.Inc()
	log.Info().Str("code", code).Str("uid", uid).Msg("joined room")
	return nil
}

// addParticipant writes joinedAt only when the participant is new: a
// create-only write first, and a merge of the mutable fields if the
// participant already exists.
func (l *Lobby) addParticipant(ctx context.Context, code, uid, name string) error {
	now := l.clock.Now().UTC()
	p := participantPath(code, uid)
	f, err := docstore.FieldsOf(Participant{UID: uid, Name: name, JoinedAt: now, LastSeenAt: now})
	if err != nil {
		return wrap(ErrActionFailure, err)
	}
	err = l.store.Create(ctx, p, f)
	if docstore.IsAlreadyExists(err) {
		err = l.store.Merge(ctx, p, docstore.Fields{
			"uid":        docstore.Value(uid),
			"name":       docstore.Value(name),
			"lastSeenAt": docstore.Value(now),
		})
	}
	return writeError("join_room", code, err)
}

// LeaveRoom removes the caller's participant document. Leaving a room one
// is not in is not an error.
func (l *Lobby) LeaveRoom(ctx context.Context, code string) error {
	code = NormalizeCode(code)
	uid, err := l.uid(ctx)
	if err != nil {
		return err
	}
	if err := l.store.Delete(ctx, participantPath(code, uid)); err != nil {
		metrics.ActionFailures.WithLabelValues("leave_room").Inc()
		return wrap(ErrActionFailure, err)
	}
	log.Info().Str("code", code).Str("uid", uid).Msg("left room")
	return nil
}

// TouchPresence refreshes lastSeenAt. It never recreates a participant
// that has left. Callers treat failure as non-fatal.
func (l *Lobby) TouchPresence(ctx context.Context, code string) error {
	uid, err := l.uid(ctx)
	if err != nil {
		return err
	}
	return l.store.Update(ctx, participantPath(NormalizeCode(code), uid), docstore.Fields{
		"lastSeenAt": docstore.Value(l.clock.Now().UTC()),
	})
}

// writeError maps a store failure: a missing room document is
// ErrRoomNotFound, anything else ErrActionFailure.
func writeError(action, code string, err error) error {
	if err == nil {
		return nil
	}
	if docstore.IsNotFound(err) && docstore.PathOf(err) == roomPath(code) {
		return wrap(ErrRoomNotFound, err)
	}
	metrics.ActionFailures.WithLabelValues(action).Inc()
	return wrap(ErrActionFailure, err)
}

// SanitizeName trims, drops control characters and caps the length.
func SanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(name))
	if r := []rune(name); len(r) > maxNameLength {
		name = strings.TrimSpace(string(r[:maxNameLength]))
	}
	return name
}
