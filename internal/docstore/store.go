// Package docstore is the change-stream document store the planning poker
// core writes to and subscribes on. Documents live in a hierarchical
// namespace; subscriptions deliver a full snapshot when they start and again
// after every change in their scope. There is no multi-document transaction.
package docstore

import (
	"context"
	"sync"
)

// DocumentFunc receives a document snapshot, or an error (KindNotFound when
// the document does not exist).
type DocumentFunc func(Document, error)

// CollectionFunc receives the full ordered contents of a collection.
type CollectionFunc func([]Document, error)

// Store is implemented by MemoryStore and RedisStore.
type Store interface {
	// Get returns KindNotFound if the document does not exist.
	Get(ctx context.Context, doc Path) (Document, error)
	List(ctx context.Context, coll Path, orderBy string) ([]Document, error)

	// Create writes a new document and fails with KindAlreadyExists if one
	// is already stored at doc.
	Create(ctx context.Context, doc Path, f Fields) error
	// Add creates a document with a store-assigned id.
	Add(ctx context.Context, coll Path, f Fields) (string, error)
	// Set replaces the document.
	Set(ctx context.Context, doc Path, f Fields) error
	// Merge upserts, overwriting only the given fields.
	Merge(ctx context.Context, doc Path, f Fields) error
	// Update merges into an existing document; KindNotFound otherwise.
	Update(ctx context.Context, doc Path, f Fields) error
	// Delete is idempotent.
	Delete(ctx context.Context, doc Path) error

	WatchDocument(ctx context.Context, doc Path, fn DocumentFunc) (*Subscription, error)
	WatchCollection(ctx context.Context, coll Path, orderBy string, fn CollectionFunc) (*Subscription, error)

	Close() error
}

// Every write to a nested document requires its owner document to exist,
// e.g. rooms/{code} must exist before rooms/{code}/participants/{uid} can
// be written. A violation is KindNotFound carrying the owner's path.

// Subscription is a live feed. Callbacks for one subscription never run
// concurrently. A callback already in flight may still complete after Stop.
type Subscription struct {
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	release func()
}

// Stop releases the feed. It does not wait and may be called from inside
// the subscription's own callback.
func (s *Subscription) Stop() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.cancel()
		if s.release != nil {
			s.release()
		}
	})
}

// Done is closed once the delivery goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// watch runs refresh once and then after every signal on notify until the
// context is cancelled or Stop is called.
func watch(parent context.Context, notify <-chan struct{}, release func(), refresh func(context.Context)) *Subscription {
	ctx, cancel := context.WithCancel(parent)
	s := &Subscription{cancel: cancel, done: make(chan struct{}), release: release}
	go func() {
		defer close(s.done)
		defer s.Stop()
		refresh(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-notify:
				if ctx.Err() != nil {
					return
				}
				refresh(ctx)
			}
		}
	}()
	return s
}

func documentRefresh(get func(context.Context) (Document, error), fn DocumentFunc) func(context.Context) {
	return func(ctx context.Context) {
		doc, err := get(ctx)
		if ctx.Err() != nil {
			return
		}
		fn(doc, err)
	}
}

func collectionRefresh(list func(context.Context) ([]Document, error), fn CollectionFunc) func(context.Context) {
	return func(ctx context.Context) {
		docs, err := list(ctx)
		if ctx.Err() != nil {
			return
		}
		fn(docs, err)
	}
}

// signal performs a coalescing, non-blocking send.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func checkDocument(op string, p Path) error {
	if !p.valid() || !p.IsDocument() {
		return newError(KindInvalid, op, p, nil)
	}
	return nil
}

func checkCollection(op string, p Path) error {
	if !p.valid() || !p.IsCollection() {
		return newError(KindInvalid, op, p, nil)
	}
	return nil
}
