package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	socketio "github.com/googollee/go-socket.io"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/norm1388/norms-planning-poker/internal/config"
	"github.com/norm1388/norms-planning-poker/internal/docstore"
	"github.com/norm1388/norms-planning-poker/internal/game"
	"github.com/norm1388/norms-planning-poker/internal/identity"
	"github.com/norm1388/norms-planning-poker/internal/metrics"
)

const actionTimeout = 10 * time.Second

// ConnCtx is the per-connection state: one game session and, per round,
// the votes this connection last exported.
type ConnCtx struct {
	Session *game.Session
	UID     string

	mu       sync.Mutex
	exported map[string]string
}

type Server struct {
	store docstore.Store
	cfg   config.Config
	clock clockwork.Clock
}

func New(st docstore.Store, cfg config.Config) *Server {
	return &Server{store: st, cfg: cfg, clock: clockwork.NewRealClock()}
}

func (srv *Server) SetClock(c clockwork.Clock) { srv.clock = c }

// identityFor resumes the id passed as ?uid= when it is a UUID, otherwise a
// fresh anonymous id is issued.
func identityFor(s socketio.Conn) identity.Provider {
	u := s.URL()
	if raw := u.Query().Get("uid"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			return identity.Static(id.String())
		}
	}
	return identity.NewAnonymous()
}

// Mount attaches the Socket.IO server with handlers to the given Gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)

	io.OnConnect("/", func(s socketio.Conn) error {
		ids := identityFor(s)
		uid, err := ids.UID(context.Background())
		if err != nil {
			log.Warn().Err(err).Str("sid", s.ID()).Msg("no identity for connection")
			return err
		}
		sess := game.NewSession(context.Background(), srv.store, ids,
			game.WithClock(srv.clock),
			game.WithPresenceInterval(srv.cfg.PresenceInterval),
		)
		cc := &ConnCtx{Session: sess, UID: uid, exported: make(map[string]string)}
		s.SetContext(cc)
		sess.OnChange(func(snap game.Snapshot) {
			s.Emit("room:state", statePayloadFor(cc.UID, snap))
			srv.maybeExport(cc, snap)
		})
		metrics.ActiveSessions.Inc()
		log.Info().Str("sid", s.ID()).Str("uid", uid).Msg("socket connected")
		return nil
	})

	io.OnEvent("/", "room:create", func(s socketio.Conn, payload struct {
		Name string `json:"name"`
	}) map[string]any {
		cc, ok := connCtx(s)
		if !ok {
			return srv.err(s, errNoSession)
		}
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		code, err := cc.Session.Create(ctx, payload.Name)
		if err != nil {
			return srv.err(s, err)
		}
		log.Info().Str("sid", s.ID()).Str("code", code).Msg("room:create")
		return map[string]any{"code": code, "uid": cc.UID}
	})

	io.OnEvent("/", "room:join", func(s socketio.Conn, payload struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}) map[string]any {
		cc, ok := connCtx(s)
		if !ok {
			return srv.err(s, errNoSession)
		}
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := cc.Session.Join(ctx, payload.Code, payload.Name); err != nil {
			return srv.err(s, err)
		}
		code := cc.Session.Code()
		log.Info().Str("sid", s.ID()).Str("code", code).Msg("room:join")
		return map[string]any{"code": code, "uid": cc.UID}
	})

	io.OnEvent("/", "room:leave", func(s socketio.Conn) map[string]any {
		return srv.act(s, "room:leave", func(ctx context.Context, sess *game.Session) error {
			return sess.Leave(ctx)
		})
	})

	io.OnEvent("/", "round:start", func(s socketio.Conn, payload struct {
		Ticket string `json:"ticket"`
	}) map[string]any {
		cc, ok := connCtx(s)
		if !ok {
			return srv.err(s, errNoSession)
		}
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		roundID, err := cc.Session.StartRound(ctx, payload.Ticket)
		if err != nil {
			return srv.err(s, err)
		}
		log.Info().Str("sid", s.ID()).Str("roundId", roundID).Msg("round:start")
		return map[string]any{"roundId": roundID}
	})

	io.OnEvent("/", "round:reveal", func(s socketio.Conn) map[string]any {
		return srv.act(s, "round:reveal", func(ctx context.Context, sess *game.Session) error {
			return sess.Reveal(ctx)
		})
	})

	io.OnEvent("/", "round:clear", func(s socketio.Conn) map[string]any {
		return srv.act(s, "round:clear", func(ctx context.Context, sess *game.Session) error {
			return sess.Clear(ctx)
		})
	})

	io.OnEvent("/", "vote:cast", func(s socketio.Conn, payload struct {
		Value int `json:"value"`
	}) map[string]any {
		return srv.act(s, "vote:cast", func(ctx context.Context, sess *game.Session) error {
			return sess.Vote(ctx, payload.Value)
		})
	})

	io.OnError("/", func(s socketio.Conn, e error) {
		if s == nil {
			log.Error().Err(e).Msg("socket error")
			return
		}
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		if cc, ok := connCtx(s); ok {
			cc.Session.Close()
			metrics.ActiveSessions.Dec()
		}
		log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	go func() {
		if err := io.Serve(); err != nil {
			log.Error().Err(err).Msg("socket.io server stopped")
		}
	}()

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))

	// Basic CORS preflight for Socket.IO POST
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})

	return io
}

var errNoSession = errors.New("connection has no session")

func connCtx(s socketio.Conn) (*ConnCtx, bool) {
	cc, ok := s.Context().(*ConnCtx)
	return cc, ok && cc != nil
}

func (srv *Server) act(s socketio.Conn, event string, fn func(context.Context, *game.Session) error) map[string]any {
	cc, ok := connCtx(s)
	if !ok {
		return srv.err(s, errNoSession)
	}
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	if err := fn(ctx, cc.Session); err != nil {
		return srv.err(s, err)
	}
	log.Info().Str("sid", s.ID()).Str("code", cc.Session.Code()).Msg(event)
	return map[string]any{"ok": true}
}

// maybeExport writes a revealed round from the room creator's connection
// only. Votes can still arrive on their feed after the first revealed
// snapshot; the round is written again whenever its vote set changes, and
// the last block for a round is the complete one.
func (srv *Server) maybeExport(cc *ConnCtx, snap game.Snapshot) {
	if !srv.cfg.ExportEnabled || snap.Phase != game.PhaseRoundRevealed || snap.Round == nil || snap.Room == nil {
		return
	}
	if snap.Room.CreatedBy != cc.UID {
		return
	}
	sig := voteSignature(snap.Votes)
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if last, ok := cc.exported[snap.Round.ID]; ok && last == sig {
		return
	}
	if err := game.ExportRound(snap, srv.cfg.ExportFile, srv.clock.Now()); err != nil {
		log.Error().Err(err).Str("code", snap.Code).Msg("failed to export round")
		return
	}
	cc.exported[snap.Round.ID] = sig
	log.Info().Str("code", snap.Code).Str("roundId", snap.Round.ID).Int("votes", len(snap.Votes)).Str("file", srv.cfg.ExportFile).Msg("exported round")
}

func voteSignature(votes map[string]int) string {
	pairs := make([]string, 0, len(votes))
	for uid, v := range votes {
		pairs = append(pairs, fmt.Sprintf("%s=%d", uid, v))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func (srv *Server) err(s socketio.Conn, err error) map[string]any {
	code := ErrorCode(err)
	if code == "internal" {
		log.Error().Err(err).Str("sid", s.ID()).Msg("unexpected error")
	}
	s.Emit("error", map[string]any{"code": code, "message": err.Error()})
	return map[string]any{"error": code}
}

// ErrorCode maps an error onto the code reported to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, game.ErrAuthFailure):
		return "auth_failure"
	case errors.Is(err, game.ErrRoomCreationExhausted):
		return "room_creation_exhausted"
	case errors.Is(err, game.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, game.ErrSubscriptionFailure):
		return "subscription_failure"
	case errors.Is(err, game.ErrRoundRevealed):
		return "round_revealed"
	case errors.Is(err, game.ErrInvalidPhase):
		return "invalid_phase"
	case errors.Is(err, game.ErrInvalidVote):
		return "invalid_vote"
	case errors.Is(err, game.ErrInvalidName):
		return "invalid_name"
	case errors.Is(err, game.ErrNotInRoom):
		return "not_in_room"
	case errors.Is(err, game.ErrActionFailure):
		return "action_failure"
	}
	return "internal"
}
