package ws

import (
	"time"

	"github.com/norm1388/norms-planning-poker/internal/game"
)

type participantState struct {
	UID        string    `json:"uid"`
	Name       string    `json:"name"`
	Voted      bool      `json:"voted"`
	JoinedAt   time.Time `json:"joinedAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

type roundState struct {
	ID        string         `json:"id"`
	Ticket    string         `json:"ticket"`
	Revealed  bool           `json:"revealed"`
	VoteCount int            `json:"voteCount"`
	Votes     map[string]int `json:"votes,omitempty"`
	Average   string         `json:"average,omitempty"`
}

type statePayload struct {
	Code         string             `json:"code"`
	You          string             `json:"you"`
	Host         string             `json:"host"`
	Phase        game.Phase         `json:"phase"`
	Unavailable  bool               `json:"unavailable"`
	Participants []participantState `json:"participants"`
	Round        *roundState        `json:"round"`
	MyVote       *int               `json:"myVote"`
	Errors       map[string]string  `json:"errors,omitempty"`
}

// statePayloadFor renders snap for uid. Vote values and the average stay
// hidden until the round is revealed; only the caller's own vote is shown.
func statePayloadFor(uid string, snap game.Snapshot) statePayload {
	p := statePayload{
		Code:         snap.Code,
		You:          uid,
		Phase:        snap.Phase,
		Unavailable:  snap.Unavailable,
		Participants: make([]participantState, 0, len(snap.Participants)),
	}
	if snap.Room != nil {
		p.Host = snap.Room.CreatedBy
	}
	for _, pt := range snap.Participants {
		p.Participants = append(p.Participants, participantState{
			UID:        pt.UID,
			Name:       pt.Name,
			Voted:      snap.HasVoted(pt.UID),
			JoinedAt:   pt.JoinedAt,
			LastSeenAt: pt.LastSeenAt,
		})
	}
	if snap.Phase != game.PhaseNoRound && snap.Room != nil {
		rs := &roundState{ID: snap.Room.CurrentRound(), VoteCount: snap.Summary.Count}
		if snap.Round != nil {
			rs.Ticket = snap.Round.Ticket
			rs.Revealed = snap.Round.Revealed
		}
		if snap.Phase == game.PhaseRoundRevealed {
			rs.Votes = snap.Votes
			rs.Average = snap.Summary.AverageString()
		}
		p.Round = rs
		if v, ok := snap.Votes[uid]; ok {
			p.MyVote = &v
		}
	}
	if len(snap.Errors) > 0 {
		p.Errors = make(map[string]string, len(snap.Errors))
		for feed, err := range snap.Errors {
			p.Errors[string(feed)] = err.Error()
		}
	}
	return p
}
