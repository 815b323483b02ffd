package docstore

import (
	"context"
	"testing"
	"time"
)

// runStoreContract exercises the behaviour both backends must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateIsCreateOnly", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		room := Doc("rooms", "ABCD")
		if err := st.Create(ctx, room, Fields{"code": Value("ABCD")}); err != nil {
			t.Fatalf("should be able to create room: %v", err)
		}
		err := st.Create(ctx, room, Fields{"code": Value("ABCD")})
		if !IsAlreadyExists(err) {
			t.Fatalf("expected already_exists on second create, got %v", err)
		}
	})

	t.Run("NestedWriteRequiresOwner", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		p := Doc("rooms", "ZZZZ", "participants", "u1")
		err := st.Merge(ctx, p, Fields{"name": Value("Bo")})
		if !IsNotFound(err) {
			t.Fatalf("expected not_found for write under missing room, got %v", err)
		}
		if got := PathOf(err); got != Doc("rooms", "ZZZZ") {
			t.Fatalf("expected error to name the room document, got %q", got)
		}
	})

	t.Run("MergeKeepsOtherFields", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		room := Doc("rooms", "ABCD")
		mustCreate(t, st, room)
		p := room.Collection("participants").Child("u1")
		if err := st.Set(ctx, p, Fields{"name": Value("Bo"), "joinedAt": Value("2024-01-01T00:00:00Z")}); err != nil {
			t.Fatalf("should be able to set: %v", err)
		}
		if err := st.Merge(ctx, p, Fields{"lastSeenAt": Value("2024-01-01T00:01:00Z")}); err != nil {
			t.Fatalf("should be able to merge: %v", err)
		}
		doc, err := st.Get(ctx, p)
		if err != nil {
			t.Fatalf("should be able to get: %v", err)
		}
		if string(doc.Fields["name"]) != `"Bo"` || doc.Fields["joinedAt"] == nil || doc.Fields["lastSeenAt"] == nil {
			t.Fatalf("merge should keep existing fields, got %v", doc.Fields)
		}
		if err := st.Set(ctx, p, Fields{"name": Value("Al")}); err != nil {
			t.Fatalf("should be able to set: %v", err)
		}
		doc, _ = st.Get(ctx, p)
		if _, ok := doc.Fields["joinedAt"]; ok {
			t.Fatal("set should replace the whole document")
		}
	})

	t.Run("UpdateRequiresDocument", func(t *testing.T) {
		st := newStore(t)
		err := st.Update(context.Background(), Doc("rooms", "NOPE"), Fields{"x": Value(1)})
		if !IsNotFound(err) {
			t.Fatalf("expected not_found updating missing document, got %v", err)
		}
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		room := Doc("rooms", "ABCD")
		mustCreate(t, st, room)
		if err := st.Delete(ctx, room); err != nil {
			t.Fatalf("should be able to delete: %v", err)
		}
		if err := st.Delete(ctx, room); err != nil {
			t.Fatalf("second delete should not fail: %v", err)
		}
		if _, err := st.Get(ctx, room); !IsNotFound(err) {
			t.Fatalf("expected not_found after delete, got %v", err)
		}
	})

	t.Run("AddAssignsID", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		room := Doc("rooms", "ABCD")
		mustCreate(t, st, room)
		id, err := st.Add(ctx, room.Collection("rounds"), Fields{"ticket": Value("T-1")})
		if err != nil {
			t.Fatalf("should be able to add: %v", err)
		}
		if id == "" {
			t.Fatal("add should assign an id")
		}
		if _, err := st.Get(ctx, room.Collection("rounds").Child(id)); err != nil {
			t.Fatalf("added document should be retrievable: %v", err)
		}
	})

	t.Run("ListOrdersByField", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		room := Doc("rooms", "ABCD")
		mustCreate(t, st, room)
		coll := room.Collection("participants")
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		_ = st.Set(ctx, coll.Child("b"), Fields{"joinedAt": Value(base.Add(2 * time.Second))})
		_ = st.Set(ctx, coll.Child("a"), Fields{"joinedAt": Value(base.Add(3 * time.Second))})
		_ = st.Set(ctx, coll.Child("c"), Fields{"joinedAt": Value(base.Add(500 * time.Millisecond))})
		docs, err := st.List(ctx, coll, "joinedAt")
		if err != nil {
			t.Fatalf("should be able to list: %v", err)
		}
		if len(docs) != 3 || docs[0].ID() != "c" || docs[1].ID() != "b" || docs[2].ID() != "a" {
			t.Fatalf("expected order c,b,a, got %v", ids(docs))
		}
	})

	t.Run("WatchDocumentDeliversSnapshots", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		room := Doc("rooms", "ABCD")
		got := make(chan Document, 16)
		errs := make(chan error, 16)
		sub, err := st.WatchDocument(ctx, room, func(d Document, err error) {
			if err != nil {
				errs <- err
				return
			}
			got <- d
		})
		if err != nil {
			t.Fatalf("should be able to watch: %v", err)
		}
		defer sub.Stop()

		select {
		case err := <-errs:
			if !IsNotFound(err) {
				t.Fatalf("expected initial not_found, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("expected initial snapshot")
		}

		mustCreate(t, st, room)
		select {
		case d := <-got:
			if d.ID() != "ABCD" {
				t.Fatalf("unexpected document %q", d.Path)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("expected snapshot after create")
		}
	})

	t.Run("WatchCollectionStops", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		room := Doc("rooms", "ABCD")
		mustCreate(t, st, room)
		coll := room.Collection("participants")
		got := make(chan int, 16)
		sub, err := st.WatchCollection(ctx, coll, "joinedAt", func(docs []Document, err error) {
			if err == nil {
				got <- len(docs)
			}
		})
		if err != nil {
			t.Fatalf("should be able to watch: %v", err)
		}
		waitCount(t, got, 0)

		_ = st.Set(ctx, coll.Child("u1"), Fields{"name": Value("Bo")})
		waitCount(t, got, 1)

		sub.Stop()
		select {
		case <-sub.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("subscription goroutine should exit after stop")
		}
		_ = st.Set(ctx, coll.Child("u2"), Fields{"name": Value("Al")})
		select {
		case n := <-got:
			t.Fatalf("no delivery expected after stop, got %d", n)
		case <-time.After(100 * time.Millisecond):
		}
	})
}

func mustCreate(t *testing.T, st Store, p Path) {
	t.Helper()
	if err := st.Create(context.Background(), p, Fields{"id": Value(p.ID())}); err != nil {
		t.Fatalf("should be able to create %s: %v", p, err)
	}
}

// waitCount drains deliveries until one reports want documents.
func waitCount(t *testing.T, got <-chan int, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case n := <-got:
			if n == want {
				return
			}
		case <-deadline:
			t.Fatalf("expected a snapshot with %d documents", want)
		}
	}
}

func ids(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID()
	}
	return out
}
