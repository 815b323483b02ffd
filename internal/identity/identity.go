// Package identity issues the anonymous ids participants are keyed by.
package identity

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrNoIdentity = errors.New("identity unavailable")

// Provider returns the caller's stable id. Repeated calls return the same id.
type Provider interface {
	UID(ctx context.Context) (string, error)
}

// Anonymous issues a random id on first use and keeps it for the lifetime
// of the value.
type Anonymous struct {
	mu  sync.Mutex
	uid string
}

func NewAnonymous() *Anonymous { return &Anonymous{} }

func (a *Anonymous) UID(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.uid != "" {
		return a.uid, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return "", errors.Join(ErrNoIdentity, err)
	}
	a.uid = id.String()
	return a.uid, nil
}

// Static is a fixed id, used when a client resumes with a previously issued id.
type Static string

func (s Static) UID(ctx context.Context) (string, error) {
	if s == "" {
		return "", ErrNoIdentity
	}
	return string(s), nil
}
