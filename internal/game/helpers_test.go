package game

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/norm1388/norms-planning-poker/internal/docstore"
	"github.com/norm1388/norms-planning-poker/internal/identity"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestLobby(st docstore.Store, uid string, clock clockwork.Clock) *Lobby {
	l := NewLobby(st, identity.Static(uid))
	l.SetClock(clock)
	return l
}

func newTestCoordinator(st docstore.Store, uid string, clock clockwork.Clock) *Coordinator {
	c := NewCoordinator(st, identity.Static(uid))
	c.SetClock(clock)
	return c
}

// fixedCodes hands out codes in order and then keeps returning the last.
func fixedCodes(codes ...string) func() (string, error) {
	i := 0
	return func() (string, error) {
		c := codes[i]
		if i < len(codes)-1 {
			i++
		}
		return c, nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitSnapshot(t *testing.T, what string, snap func() Snapshot, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	var s Snapshot
	waitFor(t, what, func() bool {
		s = snap()
		return cond(s)
	})
	return s
}

func getParticipant(t *testing.T, st docstore.Store, code, uid string) Participant {
	t.Helper()
	doc, err := st.Get(context.Background(), participantPath(code, uid))
	if err != nil {
		t.Fatalf("should find participant %s: %v", uid, err)
	}
	p, err := decodeParticipant(doc)
	if err != nil {
		t.Fatalf("participant should decode: %v", err)
	}
	return p
}

func getRoom(t *testing.T, st docstore.Store, code string) Room {
	t.Helper()
	doc, err := st.Get(context.Background(), roomPath(code))
	if err != nil {
		t.Fatalf("should find room %s: %v", code, err)
	}
	r, err := decodeRoom(doc)
	if err != nil {
		t.Fatalf("room should decode: %v", err)
	}
	return r
}
