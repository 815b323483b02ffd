package game

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/norm1388/norms-planning-poker/internal/docstore"
	"github.com/norm1388/norms-planning-poker/internal/metrics"
)

// Feed names one of the live subscriptions behind a View.
type Feed string

const (
	FeedRoom         Feed = "room"
	FeedParticipants Feed = "participants"
	FeedRound        Feed = "round"
	FeedVotes        Feed = "votes"
)

// Summary is the tally over every vote currently stored for a round.
// Average is nil when there are no votes.
type Summary struct {
	Count   int
	Average *float64
}

func Summarize(votes map[string]int) Summary {
	s := Summary{Count: len(votes)}
	if s.Count == 0 {
		return s
	}
	sum := 0
	for _, v := range votes {
		sum += v
	}
	avg := float64(sum) / float64(s.Count)
	s.Average = &avg
	return s
}

// AverageString formats the average with two decimals, or "" when absent.
func (s Summary) AverageString() string {
	if s.Average == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *s.Average)
}

// Snapshot is an immutable copy of a View's projection.
type Snapshot struct {
	Version      uint64
	Code         string
	Room         *Room
	Participants []Participant
	Round        *Round
	Votes        map[string]int
	Summary      Summary
	Phase        Phase
	// Unavailable is terminal: the room document does not exist.
	Unavailable bool
	Errors      map[Feed]error
}

func (s Snapshot) HasVoted(uid string) bool {
	_, ok := s.Votes[uid]
	return ok
}

// View merges the room, participant, round and vote feeds of one room into
// a single projection. Every delivery replaces its part of the projection
// wholesale, so duplicate or reordered deliveries are harmless.
type View struct {
	store docstore.Store

	mu           sync.Mutex
	scope        uint64 // bumped on Open/Close; older callbacks are dropped
	gen          uint64 // bumped when the current round changes
	cancel       context.CancelFunc
	ctx          context.Context
	code         string
	room         *Room
	participants []Participant
	roundID      string
	round        *Round
	votes        map[string]int
	revealed     map[string]bool
	unavailable  bool
	errs         map[Feed]error
	version      uint64
	latest       Snapshot

	roomSub, participantsSub, roundSub, votesSub *docstore.Subscription

	emitMu    sync.Mutex
	emitted   uint64
	listeners []func(Snapshot)
}

func NewView(st docstore.Store) *View {
	return &View{store: st, revealed: make(map[string]bool)}
}

// OnChange registers fn for every new snapshot. Snapshots are delivered in
// version order; a snapshot older than one already delivered is skipped.
func (v *View) OnChange(fn func(Snapshot)) {
	v.emitMu.Lock()
	defer v.emitMu.Unlock()
	v.listeners = append(v.listeners, fn)
}

func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.latest
}

// Open subscribes to code, releasing whatever the view watched before.
func (v *View) Open(ctx context.Context, code string) error {
	code = NormalizeCode(code)
	v.Close()

	v.mu.Lock()
	subctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.ctx = subctx
	v.code = code
	v.revealed = make(map[string]bool)
	v.errs = make(map[Feed]error)
	v.votes = map[string]int{}
	scope := v.scope
	v.snapshotLocked()
	v.mu.Unlock()

	roomSub, err := v.store.WatchDocument(subctx, roomPath(code), func(doc docstore.Document, err error) {
		v.handleRoom(scope, code, doc, err)
	})
	if err != nil {
		v.Close()
		return wrap(ErrSubscriptionFailure, err)
	}
	participantsSub, err := v.store.WatchCollection(subctx, participantsPath(code), "joinedAt", func(docs []docstore.Document, err error) {
		v.handleParticipants(scope, docs, err)
	})
	if err != nil {
		roomSub.Stop()
		v.Close()
		return wrap(ErrSubscriptionFailure, err)
	}

	v.mu.Lock()
	if scope != v.scope || v.unavailable {
		v.mu.Unlock()
		roomSub.Stop()
		participantsSub.Stop()
		return nil
	}
	v.roomSub, v.participantsSub = roomSub, participantsSub
	v.mu.Unlock()
	log.Debug().Str("code", code).Msg("view opened")
	return nil
}

// Close releases every subscription. It is safe to call repeatedly.
func (v *View) Close() {
	v.mu.Lock()
	v.scope++
	subs := []*docstore.Subscription{v.roomSub, v.participantsSub, v.roundSub, v.votesSub}
	v.roomSub, v.participantsSub, v.roundSub, v.votesSub = nil, nil, nil, nil
	cancel := v.cancel
	v.cancel = nil
	v.code = ""
	v.room = nil
	v.participants = nil
	v.roundID = ""
	v.round = nil
	v.votes = nil
	v.unavailable = false
	v.errs = nil
	v.latest = Snapshot{Version: v.version, Phase: PhaseNoRound}
	v.mu.Unlock()

	for _, s := range subs {
		s.Stop()
	}
	if cancel != nil {
		cancel()
	}
}

func (v *View) handleRoom(scope uint64, code string, doc docstore.Document, err error) {
	v.mu.Lock()
	if scope != v.scope || v.unavailable {
		v.mu.Unlock()
		return
	}
	if err == nil {
		var room Room
		room, err = decodeRoom(doc)
		if err == nil {
			v.applyRoomLocked(scope, code, room)
			return
		}
	}
	if docstore.IsNotFound(err) {
		v.unavailable = true
		stale := []*docstore.Subscription{v.roomSub, v.participantsSub, v.roundSub, v.votesSub}
		v.roomSub, v.participantsSub, v.roundSub, v.votesSub = nil, nil, nil, nil
		v.room = nil
		v.roundID = ""
		v.round = nil
		v.votes = map[string]int{}
		v.gen++
		v.errs[FeedRoom] = wrap(ErrRoomNotFound, err)
		snap := v.snapshotLocked()
		v.mu.Unlock()
		for _, s := range stale {
			s.Stop()
		}
		log.Info().Str("code", code).Msg("room unavailable")
		v.emit(snap)
		return
	}
	v.feedErrorLocked(FeedRoom, err)
}

// applyRoomLocked unlocks v.mu. When the current round changes, the old
// round and vote feeds are stopped before the new ones start.
func (v *View) applyRoomLocked(scope uint64, code string, room Room) {
	delete(v.errs, FeedRoom)
	v.room = &room

	var stale []*docstore.Subscription
	next := room.CurrentRound()
	changed := next != v.roundID
	var gen uint64
	if changed {
		stale = []*docstore.Subscription{v.roundSub, v.votesSub}
		v.roundSub, v.votesSub = nil, nil
		v.gen++
		gen = v.gen
		v.roundID = next
		v.round = nil
		v.votes = map[string]int{}
		delete(v.errs, FeedRound)
		delete(v.errs, FeedVotes)
	}
	ctx := v.ctx
	snap := v.snapshotLocked()
	v.mu.Unlock()

	for _, s := range stale {
		s.Stop()
	}
	if changed {
		log.Debug().Str("code", code).Str("roundId", next).Msg("current round changed")
		if next != "" {
			v.watchRound(ctx, scope, gen, code, next)
		}
	}
	v.emit(snap)
}

func (v *View) watchRound(ctx context.Context, scope, gen uint64, code, roundID string) {
	roundSub, err := v.store.WatchDocument(ctx, roundPath(code, roundID), func(doc docstore.Document, err error) {
		v.handleRound(scope, gen, doc, err)
	})
	if err != nil {
		v.roundFeedError(scope, gen, FeedRound, err)
	}
	votesSub, err := v.store.WatchCollection(ctx, votesPath(code, roundID), "createdAt", func(docs []docstore.Document, err error) {
		v.handleVotes(scope, gen, docs, err)
	})
	if err != nil {
		v.roundFeedError(scope, gen, FeedVotes, err)
	}

	v.mu.Lock()
	if scope != v.scope || gen != v.gen {
		v.mu.Unlock()
		roundSub.Stop()
		votesSub.Stop()
		return
	}
	v.roundSub, v.votesSub = roundSub, votesSub
	v.mu.Unlock()
}

func (v *View) roundFeedError(scope, gen uint64, feed Feed, err error) {
	v.mu.Lock()
	if scope != v.scope || gen != v.gen {
		v.mu.Unlock()
		return
	}
	v.feedErrorLocked(feed, err)
}

func (v *View) handleRound(scope, gen uint64, doc docstore.Document, err error) {
	v.mu.Lock()
	if scope != v.scope || gen != v.gen {
		v.mu.Unlock()
		return
	}
	if err != nil {
		v.feedErrorLocked(FeedRound, err)
		return
	}
	round, err := decodeRound(doc)
	if err != nil {
		v.feedErrorLocked(FeedRound, err)
		return
	}
	if v.revealed[round.ID] {
		round.Revealed = true
	}
	if round.Revealed {
		v.revealed[round.ID] = true
	}
	delete(v.errs, FeedRound)
	v.round = &round
	snap := v.snapshotLocked()
	v.mu.Unlock()
	v.emit(snap)
}

func (v *View) handleVotes(scope, gen uint64, docs []docstore.Document, err error) {
	v.mu.Lock()
	if scope != v.scope || gen != v.gen {
		v.mu.Unlock()
		return
	}
	if err != nil {
		v.feedErrorLocked(FeedVotes, err)
		return
	}
	votes := make(map[string]int, len(docs))
	for _, doc := range docs {
		vote, err := decodeVote(doc)
		if err != nil {
			log.Warn().Err(err).Msg("skipping malformed vote")
			continue
		}
		votes[vote.UID] = vote.Value
	}
	delete(v.errs, FeedVotes)
	v.votes = votes
	snap := v.snapshotLocked()
	v.mu.Unlock()
	v.emit(snap)
}

func (v *View) handleParticipants(scope uint64, docs []docstore.Document, err error) {
	v.mu.Lock()
	if scope != v.scope || v.unavailable {
		v.mu.Unlock()
		return
	}
	if err != nil {
		v.feedErrorLocked(FeedParticipants, err)
		return
	}
	participants := make([]Participant, 0, len(docs))
	for _, doc := range docs {
		p, err := decodeParticipant(doc)
		if err != nil {
			log.Warn().Err(err).Msg("skipping malformed participant")
			continue
		}
		participants = append(participants, p)
	}
	delete(v.errs, FeedParticipants)
	v.participants = participants
	snap := v.snapshotLocked()
	v.mu.Unlock()
	v.emit(snap)
}

// feedErrorLocked records a failure for one feed, keeps the last good
// projection and unlocks v.mu.
func (v *View) feedErrorLocked(feed Feed, err error) {
	v.errs[feed] = wrap(ErrSubscriptionFailure, err)
	code := v.code
	snap := v.snapshotLocked()
	v.mu.Unlock()
	metrics.SubscriptionFailures.WithLabelValues(string(feed)).Inc()
	log.Warn().Err(err).Str("code", code).Str("feed", string(feed)).Msg("feed error")
	v.emit(snap)
}

func (v *View) snapshotLocked() Snapshot {
	v.version++
	s := Snapshot{
		Version:     v.version,
		Code:        v.code,
		Unavailable: v.unavailable,
		Phase:       PhaseNoRound,
	}
	if v.room != nil {
		r := *v.room
		if r.CurrentRoundID != nil {
			id := *r.CurrentRoundID
			r.CurrentRoundID = &id
		}
		s.Room = &r
	}
	s.Participants = append([]Participant(nil), v.participants...)
	s.Votes = make(map[string]int, len(v.votes))
	for uid, val := range v.votes {
		s.Votes[uid] = val
	}
	if v.round != nil {
		r := *v.round
		s.Round = &r
	}
	if v.roundID != "" {
		s.Phase = PhaseRoundOpen
		if s.Round != nil && s.Round.Revealed {
			s.Phase = PhaseRoundRevealed
		}
	}
	s.Summary = Summarize(s.Votes)
	if len(v.errs) > 0 {
		s.Errors = make(map[Feed]error, len(v.errs))
		for f, err := range v.errs {
			s.Errors[f] = err
		}
	}
	v.latest = s
	return s
}

func (v *View) emit(snap Snapshot) {
	v.emitMu.Lock()
	defer v.emitMu.Unlock()
	if snap.Version <= v.emitted {
		return
	}
	v.emitted = snap.Version
	for _, fn := range v.listeners {
		fn(snap)
	}
}
