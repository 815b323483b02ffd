package docstore

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var errClosed = errors.New("store closed")

type writeMode int

const (
	modeCreate writeMode = iota
	modeSet
	modeMerge
	modeUpdate
)

// MemoryStore keeps documents in process. It backs tests and
// single-process deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[Path]Fields
	watchers map[Path]map[chan struct{}]struct{}
	closed   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[Path]Fields),
		watchers: make(map[Path]map[chan struct{}]struct{}),
	}
}

func (s *MemoryStore) Get(ctx context.Context, doc Path) (Document, error) {
	if err := checkDocument("get", doc); err != nil {
		return Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Document{}, newError(KindUnavailable, "get", doc, errClosed)
	}
	f, ok := s.docs[doc]
	if !ok {
		return Document{}, newError(KindNotFound, "get", doc, nil)
	}
	return Document{Path: doc, Fields: f.clone()}, nil
}

func (s *MemoryStore) List(ctx context.Context, coll Path, orderBy string) ([]Document, error) {
	if err := checkCollection("list", coll); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, newError(KindUnavailable, "list", coll, errClosed)
	}
	out := []Document{}
	for p, f := range s.docs {
		if p.Parent() == coll {
			out = append(out, Document{Path: p, Fields: f.clone()})
		}
	}
	sortDocuments(out, orderBy)
	return out, nil
}

func (s *MemoryStore) Create(ctx context.Context, doc Path, f Fields) error {
	return s.write("create", doc, f, modeCreate)
}

func (s *MemoryStore) Add(ctx context.Context, coll Path, f Fields) (string, error) {
	if err := checkCollection("add", coll); err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := s.write("add", coll.Child(id), f, modeCreate); err != nil {
		return "", err
	}
	return id, nil
}

func (s *MemoryStore) Set(ctx context.Context, doc Path, f Fields) error {
	return s.write("set", doc, f, modeSet)
}

func (s *MemoryStore) Merge(ctx context.Context, doc Path, f Fields) error {
	return s.write("merge", doc, f, modeMerge)
}

func (s *MemoryStore) Update(ctx context.Context, doc Path, f Fields) error {
	return s.write("update", doc, f, modeUpdate)
}

func (s *MemoryStore) write(op string, doc Path, f Fields, mode writeMode) error {
	if err := checkDocument(op, doc); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return newError(KindUnavailable, op, doc, errClosed)
	}
	if owner := doc.Owner(); owner != "" {
		if _, ok := s.docs[owner]; !ok {
			return newError(KindNotFound, op, owner, nil)
		}
	}
	cur, exists := s.docs[doc]
	switch mode {
	case modeCreate:
		if exists {
			return newError(KindAlreadyExists, op, doc, nil)
		}
		s.docs[doc] = f.clone()
	case modeSet:
		s.docs[doc] = f.clone()
	case modeMerge, modeUpdate:
		if !exists {
			if mode == modeUpdate {
				return newError(KindNotFound, op, doc, nil)
			}
			cur = Fields{}
		}
		for k, v := range f.clone() {
			cur[k] = v
		}
		s.docs[doc] = cur
	}
	s.notifyLocked(doc)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, doc Path) error {
	if err := checkDocument("delete", doc); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return newError(KindUnavailable, "delete", doc, errClosed)
	}
	if _, ok := s.docs[doc]; !ok {
		return nil
	}
	delete(s.docs, doc)
	s.notifyLocked(doc)
	return nil
}

func (s *MemoryStore) notifyLocked(doc Path) {
	for _, p := range []Path{doc, doc.Parent()} {
		for ch := range s.watchers[p] {
			signal(ch)
		}
	}
}

func (s *MemoryStore) register(op string, p Path) (chan struct{}, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, newError(KindUnavailable, op, p, errClosed)
	}
	ch := make(chan struct{}, 1)
	if s.watchers[p] == nil {
		s.watchers[p] = make(map[chan struct{}]struct{})
	}
	s.watchers[p][ch] = struct{}{}
	release := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers[p], ch)
		if len(s.watchers[p]) == 0 {
			delete(s.watchers, p)
		}
	}
	return ch, release, nil
}

func (s *MemoryStore) WatchDocument(ctx context.Context, doc Path, fn DocumentFunc) (*Subscription, error) {
	if err := checkDocument("watch", doc); err != nil {
		return nil, err
	}
	ch, release, err := s.register("watch", doc)
	if err != nil {
		return nil, err
	}
	get := func(ctx context.Context) (Document, error) { return s.Get(ctx, doc) }
	return watch(ctx, ch, release, documentRefresh(get, fn)), nil
}

func (s *MemoryStore) WatchCollection(ctx context.Context, coll Path, orderBy string, fn CollectionFunc) (*Subscription, error) {
	if err := checkCollection("watch", coll); err != nil {
		return nil, err
	}
	ch, release, err := s.register("watch", coll)
	if err != nil {
		return nil, err
	}
	list := func(ctx context.Context) ([]Document, error) { return s.List(ctx, coll, orderBy) }
	return watch(ctx, ch, release, collectionRefresh(list, fn)), nil
}

// Watchers reports the number of live subscriptions, for leak checks.
func (s *MemoryStore) Watchers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, w := range s.watchers {
		n += len(w)
	}
	return n
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
