package game

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/norm1388/norms-planning-poker/internal/docstore"
	"github.com/norm1388/norms-planning-poker/internal/identity"
)

// Session is one client's handle on the game: its identity, the room it is
// in, the live view of that room and its presence heartbeat.
type Session struct {
	ids      identity.Provider
	lobby    *Lobby
	rounds   *Coordinator
	view     *View
	clock    clockwork.Clock
	interval time.Duration

	base   context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	code      string
	heartbeat *Heartbeat
}

type SessionOption func(*Session)

func WithClock(c clockwork.Clock) SessionOption {
	return func(s *Session) {
		s.clock = c
		s.lobby.SetClock(c)
		s.rounds.SetClock(c)
	}
}

func WithPresenceInterval(d time.Duration) SessionOption {
	return func(s *Session) { s.interval = d }
}

func WithCodeGenerator(gen func() (string, error)) SessionOption {
	return func(s *Session) { s.lobby.SetCodeGenerator(gen) }
}

// NewSession ties the session's subscriptions and heartbeat to ctx. Close
// releases them earlier.
func NewSession(ctx context.Context, st docstore.Store, ids identity.Provider, opts ...SessionOption) *Session {
	base, cancel := context.WithCancel(ctx)
	s := &Session{
		ids:      ids,
		lobby:    NewLobby(st, ids),
		rounds:   NewCoordinator(st, ids),
		view:     NewView(st),
		clock:    clockwork.NewRealClock(),
		interval: PresenceInterval,
		base:     base,
		cancel:   cancel,
	}
	s.rounds.SetStateReader(s.view)
	s.view.OnChange(s.onSnapshot)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) UID(ctx context.Context) (string, error) {
	uid, err := s.ids.UID(ctx)
	if err != nil {
		return "", wrap(ErrAuthFailure, err)
	}
	return uid, nil
}

// Code is the room the session is in, or "".
func (s *Session) Code() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

func (s *Session) Snapshot() Snapshot {
	return s.view.Snapshot()
}

func (s *Session) OnChange(fn func(Snapshot)) {
	s.view.OnChange(fn)
}

// onSnapshot drops the room once the view reports it gone: the heartbeat
// stops and Code reports no room.
func (s *Session) onSnapshot(snap Snapshot) {
	if !snap.Unavailable {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.code == "" || s.code != snap.Code {
		return
	}
	s.heartbeat.Stop()
	s.heartbeat = nil
	s.code = ""
	log.Info().Str("code", snap.Code).Msg("room gone, presence stopped")
}

func (s *Session) Create(ctx context.Context, name string) (string, error) {
	code, err := s.lobby.CreateRoom(ctx, name)
	if err != nil {
		return "", err
	}
	if err := s.enter(code); err != nil {
		return code, err
	}
	return code, nil
}

func (s *Session) Join(ctx context.Context, code, name string) error {
	code = NormalizeCode(code)
	if err := s.lobby.JoinRoom(ctx, code, name); err != nil {
		return err
	}
	return s.enter(code)
}

// enter points the view and heartbeat at code, releasing any previous room.
func (s *Session) enter(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeat.Stop()
	s.heartbeat = nil
	s.code = ""
	if err := s.view.Open(s.base, code); err != nil {
		return err
	}
	s.code = code
	s.heartbeat = StartHeartbeat(s.base, s.clock, s.interval, func(ctx context.Context) error {
		return s.lobby.TouchPresence(ctx, code)
	})
	return nil
}

// Leave removes the caller from its room and releases the room's feeds.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	code := s.code
	s.heartbeat.Stop()
	s.heartbeat = nil
	s.code = ""
	s.view.Close()
	s.mu.Unlock()
	if code == "" {
		return nil
	}
	return s.lobby.LeaveRoom(ctx, code)
}

func (s *Session) room() (string, error) {
	code := s.Code()
	if code == "" {
		return "", ErrNotInRoom
	}
	return code, nil
}

func (s *Session) StartRound(ctx context.Context, ticket string) (string, error) {
	code, err := s.room()
	if err != nil {
		return "", err
	}
	return s.rounds.StartRound(ctx, code, ticket)
}

// currentRound is the round the caller last observed as current.
func (s *Session) currentRound() (string, string, error) {
	code, err := s.room()
	if err != nil {
		return "", "", err
	}
	snap := s.view.Snapshot()
	if snap.Room == nil || snap.Room.CurrentRound() == "" {
		return code, "", ErrInvalidPhase
	}
	return code, snap.Room.CurrentRound(), nil
}

func (s *Session) Reveal(ctx context.Context) error {
	code, roundID, err := s.currentRound()
	if err != nil {
		return err
	}
	return s.rounds.RevealRound(ctx, code, roundID)
}

func (s *Session) Clear(ctx context.Context) error {
	code, err := s.room()
	if err != nil {
		return err
	}
	return s.rounds.ClearCurrentRound(ctx, code)
}

func (s *Session) Vote(ctx context.Context, value int) error {
	if !ValidCard(value) {
		return ErrInvalidVote
	}
	code, roundID, err := s.currentRound()
	if err != nil {
		return err
	}
	return s.rounds.CastVote(ctx, code, roundID, value)
}

// Close releases the session without leaving the room; the participant
// stays listed with a stale lastSeenAt.
func (s *Session) Close() {
	s.mu.Lock()
	s.heartbeat.Stop()
	s.heartbeat = nil
	s.code = ""
	s.mu.Unlock()
	s.view.Close()
	s.cancel()
}
