package docstore

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStoreReleasesWatchers(t *testing.T) {
	st := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := st.WatchDocument(ctx, Doc("rooms", "ABCD"), func(Document, error) {})
	if err != nil {
		t.Fatalf("should be able to watch: %v", err)
	}
	if st.Watchers() != 1 {
		t.Fatalf("expected 1 watcher, got %d", st.Watchers())
	}
	cancel()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("cancelling the context should end the subscription")
	}
	if st.Watchers() != 0 {
		t.Fatalf("expected watchers to be released, got %d", st.Watchers())
	}
}

func TestMemoryStoreRejectsInvalidPaths(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	if err := st.Create(ctx, Doc("rooms"), Fields{}); KindOf(err) != KindInvalid {
		t.Fatalf("expected invalid for collection path, got %v", err)
	}
	if _, err := st.List(ctx, Doc("rooms", "ABCD"), ""); KindOf(err) != KindInvalid {
		t.Fatalf("expected invalid for document path, got %v", err)
	}
}

func TestPathHelpers(t *testing.T) {
	vote := Doc("rooms", "ABCD").Collection("rounds").Child("r1").Collection("votes").Child("u1")
	if vote != "rooms/ABCD/rounds/r1/votes/u1" {
		t.Fatalf("unexpected path %q", vote)
	}
	if vote.Owner() != "rooms/ABCD/rounds/r1" {
		t.Fatalf("unexpected owner %q", vote.Owner())
	}
	if vote.Parent() != "rooms/ABCD/rounds/r1/votes" {
		t.Fatalf("unexpected parent %q", vote.Parent())
	}
	if Doc("rooms", "ABCD").Owner() != "" {
		t.Fatal("top-level documents have no owner")
	}
}
