package game

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/norm1388/norms-planning-poker/internal/docstore"
	"github.com/norm1388/norms-planning-poker/internal/identity"
)

// countingIDs counts identity lookups; every presence touch makes one.
type countingIDs struct {
	identity.Static
	calls atomic.Int32
}

func (c *countingIDs) UID(ctx context.Context) (string, error) {
	c.calls.Add(1)
	return c.Static.UID(ctx)
}

func newTestSession(st docstore.Store, uid string, opts ...SessionOption) *Session {
	return NewSession(context.Background(), st, identity.Static(uid), opts...)
}

func runSessionLifecycle(t *testing.T, st docstore.Store) {
	ctx := context.Background()
	alice := newTestSession(st, "alice")
	bob := newTestSession(st, "bob")
	defer alice.Close()
	defer bob.Close()

	code, err := alice.Create(ctx, "Alice")
	if err != nil {
		t.Fatalf("should create room: %v", err)
	}
	if err := bob.Join(ctx, code, "Bob"); err != nil {
		t.Fatalf("should join: %v", err)
	}
	waitSnapshot(t, "both participants", alice.Snapshot, func(s Snapshot) bool { return len(s.Participants) == 2 })

	roundID, err := alice.StartRound(ctx, "PROJ-7")
	if err != nil {
		t.Fatalf("should start round: %v", err)
	}
	for _, sess := range []*Session{alice, bob} {
		waitSnapshot(t, "round open", sess.Snapshot, func(s Snapshot) bool {
			return s.Phase == PhaseRoundOpen && s.Room.CurrentRound() == roundID
		})
	}

	if err := bob.Vote(ctx, 5); err != nil {
		t.Fatalf("bob should vote: %v", err)
	}
	if err := alice.Vote(ctx, 3); err != nil {
		t.Fatalf("alice should vote: %v", err)
	}
	waitSnapshot(t, "two votes", alice.Snapshot, func(s Snapshot) bool { return s.Summary.Count == 2 })

	if err := alice.Reveal(ctx); err != nil {
		t.Fatalf("should reveal: %v", err)
	}
	waitSnapshot(t, "reveal for alice", alice.Snapshot, func(s Snapshot) bool { return s.Phase == PhaseRoundRevealed })
	snap := waitSnapshot(t, "reveal for bob", bob.Snapshot, func(s Snapshot) bool { return s.Phase == PhaseRoundRevealed })
	if snap.Summary.AverageString() != "4.00" {
		t.Fatalf("expected average 4.00, got %q", snap.Summary.AverageString())
	}
	if err := bob.Vote(ctx, 8); !errors.Is(err, ErrRoundRevealed) {
		t.Fatalf("expected ErrRoundRevealed, got %v", err)
	}
	if _, err := alice.StartRound(ctx, "too soon"); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("expected ErrInvalidPhase, got %v", err)
	}

	if err := alice.Clear(ctx); err != nil {
		t.Fatalf("should clear: %v", err)
	}
	waitSnapshot(t, "cleared for bob", bob.Snapshot, func(s Snapshot) bool { return s.Phase == PhaseNoRound })
	if err := bob.Vote(ctx, 3); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("voting without a round should be ErrInvalidPhase, got %v", err)
	}

	if err := bob.Leave(ctx); err != nil {
		t.Fatalf("should leave: %v", err)
	}
	if bob.Code() != "" {
		t.Fatalf("session should have no room after leave, got %s", bob.Code())
	}
	waitSnapshot(t, "bob gone", alice.Snapshot, func(s Snapshot) bool { return len(s.Participants) == 1 })
}

func TestSessionLifecycle(t *testing.T) {
	st := docstore.NewMemoryStore()
	runSessionLifecycle(t, st)
	waitFor(t, "feeds released", func() bool { return st.Watchers() == 0 })
}

func TestSessionLifecycleOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	st := docstore.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer st.Close()
	runSessionLifecycle(t, st)
}

func TestSessionRequiresRoom(t *testing.T) {
	s := newTestSession(docstore.NewMemoryStore(), "alice")
	defer s.Close()
	ctx := context.Background()
	if _, err := s.StartRound(ctx, ""); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("expected ErrNotInRoom, got %v", err)
	}
	if err := s.Vote(ctx, 3); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("expected ErrNotInRoom, got %v", err)
	}
	if err := s.Vote(ctx, 4); !errors.Is(err, ErrInvalidVote) {
		t.Fatalf("expected ErrInvalidVote, got %v", err)
	}
	if err := s.Leave(ctx); err != nil {
		t.Fatalf("leaving without a room should be a no-op: %v", err)
	}
}

func TestSessionJoinMissingRoom(t *testing.T) {
	st := docstore.NewMemoryStore()
	s := newTestSession(st, "bob")
	defer s.Close()
	if err := s.Join(context.Background(), "ZZZZ", "Bob"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
	if s.Code() != "" || st.Watchers() != 0 {
		t.Fatalf("failed join should not open feeds, code=%q watchers=%d", s.Code(), st.Watchers())
	}
}

func TestSessionHeartbeatTouchesPresence(t *testing.T) {
	st := docstore.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(t0)
	s := newTestSession(st, "alice", WithClock(clock), WithPresenceInterval(15*time.Second))
	defer s.Close()

	code, err := s.Create(context.Background(), "Alice")
	if err != nil {
		t.Fatalf("should create room: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("heartbeat ticker should be waiting: %v", err)
	}
	clock.Advance(15 * time.Second)
	waitFor(t, "presence touch", func() bool {
		return getParticipant(t, st, code, "alice").LastSeenAt.Equal(t0.Add(15 * time.Second))
	})
	if p := getParticipant(t, st, code, "alice"); !p.JoinedAt.Equal(t0) {
		t.Fatalf("joinedAt should not move, got %v", p.JoinedAt)
	}
}

func TestSessionSwitchingRoomsReleasesFeeds(t *testing.T) {
	st := docstore.NewMemoryStore()
	ctx := context.Background()
	s := newTestSession(st, "alice", WithCodeGenerator(fixedCodes("AAAA", "BBBB")))
	defer s.Close()

	if _, err := s.Create(ctx, "Alice"); err != nil {
		t.Fatalf("should create first room: %v", err)
	}
	waitFor(t, "first feeds", func() bool { return st.Watchers() == 2 })
	code, err := s.Create(ctx, "Alice")
	if err != nil {
		t.Fatalf("should create second room: %v", err)
	}
	if code != "BBBB" || s.Code() != "BBBB" {
		t.Fatalf("expected session in BBBB, got %s / %s", code, s.Code())
	}
	waitSnapshot(t, "second room", s.Snapshot, func(snap Snapshot) bool { return snap.Room != nil && snap.Code == "BBBB" })
	if n := st.Watchers(); n != 2 {
		t.Fatalf("expected only the new room's feeds, got %d", n)
	}
}

func TestSessionStopsHeartbeatWhenRoomDisappears(t *testing.T) {
	st := docstore.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(t0)
	ids := &countingIDs{Static: "alice"}
	s := NewSession(context.Background(), st, ids, WithClock(clock), WithPresenceInterval(15*time.Second))
	defer s.Close()

	code, err := s.Create(context.Background(), "Alice")
	if err != nil {
		t.Fatalf("should create room: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("heartbeat ticker should be waiting: %v", err)
	}

	if err := st.Delete(context.Background(), roomPath(code)); err != nil {
		t.Fatalf("should delete room: %v", err)
	}
	waitSnapshot(t, "room unavailable", s.Snapshot, func(snap Snapshot) bool { return snap.Unavailable })
	waitFor(t, "session leaves the room", func() bool { return s.Code() == "" })
	waitFor(t, "feeds released", func() bool { return st.Watchers() == 0 })

	before := ids.calls.Load()
	for i := 0; i < 3; i++ {
		clock.Advance(15 * time.Second)
	}
	time.Sleep(50 * time.Millisecond)
	if n := ids.calls.Load() - before; n != 0 {
		t.Fatalf("no presence touches expected after the room is gone, got %d", n)
	}
	if _, err := s.StartRound(context.Background(), "PROJ-1"); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("expected ErrNotInRoom once the room is gone, got %v", err)
	}
}
