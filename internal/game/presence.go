package game

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/norm1388/norms-planning-poker/internal/metrics"
)

const PresenceInterval = 15 * time.Second

// Heartbeat calls a touch function on a fixed interval until stopped.
type Heartbeat struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartHeartbeat touches immediately and then every interval. Touch errors
// are logged and counted, never returned.
func StartHeartbeat(ctx context.Context, clock clockwork.Clock, interval time.Duration, touch func(context.Context) error) *Heartbeat {
	if interval <= 0 {
		interval = PresenceInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &Heartbeat{cancel: cancel, done: make(chan struct{})}
	ticker := clock.NewTicker(interval)

	go func() {
		defer close(h.done)
		defer ticker.Stop()
		beat := func() {
			if err := touch(ctx); err != nil && ctx.Err() == nil {
				metrics.PresenceFailures.Inc()
				log.Debug().Err(err).Msg("presence update failed")
			}
		}
		beat()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				beat()
			}
		}
	}()
	return h
}

// Stop ends the heartbeat and waits for the loop to exit.
func (h *Heartbeat) Stop() {
	if h == nil {
		return
	}
	h.once.Do(h.cancel)
	<-h.done
}
