package game

import (
	"time"
)

// Phase is the round state of a room as observed from its documents.
type Phase string

const (
	PhaseNoRound       Phase = "NoRound"
	PhaseRoundOpen     Phase = "RoundOpen"
	PhaseRoundRevealed Phase = "RoundRevealed"
)

// CardValues is the closed, ordered set of estimates a vote may carry.
var CardValues = []int{0, 1, 2, 3, 5, 8, 13}

func ValidCard(v int) bool {
	for _, c := range CardValues {
		if c == v {
			return true
		}
	}
	return false
}

// Room is stored at rooms/{code}.
type Room struct {
	Code           string    `json:"code"`
	CreatedAt      time.Time `json:"createdAt"`
	CreatedBy      string    `json:"createdBy"`
	CurrentRoundID *string   `json:"currentRoundId"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// CurrentRound returns the referenced round id or "".
func (r Room) CurrentRound() string {
	if r.CurrentRoundID == nil {
		return ""
	}
	return *r.CurrentRoundID
}

// Participant is stored at rooms/{code}/participants/{uid}.
type Participant struct {
	UID        string    `json:"uid"`
	Name       string    `json:"name"`
	JoinedAt   time.Time `json:"joinedAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// Round is stored at rooms/{code}/rounds/{id}; the id is assigned by the store.
type Round struct {
	ID        string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy string    `json:"createdBy"`
	Ticket    string    `json:"ticket"`
	Revealed  bool      `json:"revealed"`
}

// Vote is stored at rooms/{code}/rounds/{id}/votes/{uid}.
type Vote struct {
	UID       string    `json:"uid"`
	Value     int       `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
}
