package game

import (
	"errors"
	"fmt"
	"time"

	"github.com/norm1388/norms-planning-poker/internal/docstore"
)

// ErrMalformed marks a stored document that does not have the expected shape.
var ErrMalformed = errors.New("malformed document")

func roomPath(code string) docstore.Path { return docstore.Doc("rooms", code) }

func participantsPath(code string) docstore.Path {
	return roomPath(code).Collection("participants")
}

func participantPath(code, uid string) docstore.Path {
	return participantsPath(code).Child(uid)
}

func roundsPath(code string) docstore.Path { return roomPath(code).Collection("rounds") }

func roundPath(code, roundID string) docstore.Path { return roundsPath(code).Child(roundID) }

func votesPath(code, roundID string) docstore.Path {
	return roundPath(code, roundID).Collection("votes")
}

func votePath(code, roundID, uid string) docstore.Path {
	return votesPath(code, roundID).Child(uid)
}

func malformed(doc docstore.Document, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformed, doc.Path, fmt.Sprintf(format, args...))
}

// The wire structs use pointers so a missing field can be told apart from a
// zero value.

type roomDoc struct {
	Code           *string    `json:"code"`
	CreatedAt      *time.Time `json:"createdAt"`
	CreatedBy      *string    `json:"createdBy"`
	CurrentRoundID *string    `json:"currentRoundId"`
	UpdatedAt      *time.Time `json:"updatedAt"`
}

func decodeRoom(doc docstore.Document) (Room, error) {
	var d roomDoc
	if err := doc.Decode(&d); err != nil {
		return Room{}, malformed(doc, "%v", err)
	}
	if d.Code == nil || *d.Code != doc.ID() || !ValidCode(*d.Code) {
		return Room{}, malformed(doc, "code does not match document")
	}
	if d.CreatedBy == nil || *d.CreatedBy == "" {
		return Room{}, malformed(doc, "missing createdBy")
	}
	r := Room{Code: *d.Code, CreatedBy: *d.CreatedBy}
	if d.CreatedAt != nil {
		r.CreatedAt = *d.CreatedAt
	}
	if d.UpdatedAt != nil {
		r.UpdatedAt = *d.UpdatedAt
	}
	if d.CurrentRoundID != nil && *d.CurrentRoundID != "" {
		id := *d.CurrentRoundID
		r.CurrentRoundID = &id
	}
	return r, nil
}

type participantDoc struct {
	UID        *string    `json:"uid"`
	Name       *string    `json:"name"`
	JoinedAt   *time.Time `json:"joinedAt"`
	LastSeenAt *time.Time `json:"lastSeenAt"`
}

func decodeParticipant(doc docstore.Document) (Participant, error) {
	var d participantDoc
	if err := doc.Decode(&d); err != nil {
		return Participant{}, malformed(doc, "%v", err)
	}
	if d.UID == nil || *d.UID != doc.ID() {
		return Participant{}, malformed(doc, "uid does not match document")
	}
	if d.Name == nil || *d.Name == "" {
		return Participant{}, malformed(doc, "missing name")
	}
	p := Participant{UID: *d.UID, Name: *d.Name}
	if d.JoinedAt != nil {
		p.JoinedAt = *d.JoinedAt
	}
	if d.LastSeenAt != nil {
		p.LastSeenAt = *d.LastSeenAt
	}
	return p, nil
}

type roundDoc struct {
	CreatedAt *time.Time `json:"createdAt"`
	CreatedBy *string    `json:"createdBy"`
	Ticket    *string    `json:"ticket"`
	Revealed  *bool      `json:"revealed"`
}

func decodeRound(doc docstore.Document) (Round, error) {
	var d roundDoc
	if err := doc.Decode(&d); err != nil {
		return Round{}, malformed(doc, "%v", err)
	}
	if d.CreatedBy == nil || *d.CreatedBy == "" {
		return Round{}, malformed(doc, "missing createdBy")
	}
	if d.Revealed == nil {
		return Round{}, malformed(doc, "missing revealed")
	}
	r := Round{ID: doc.ID(), CreatedBy: *d.CreatedBy, Revealed: *d.Revealed}
	if d.Ticket != nil {
		r.Ticket = *d.Ticket
	}
	if d.CreatedAt != nil {
		r.CreatedAt = *d.CreatedAt
	}
	return r, nil
}

type voteDoc struct {
	UID       *string    `json:"uid"`
	Value     *int       `json:"value"`
	CreatedAt *time.Time `json:"createdAt"`
}

func decodeVote(doc docstore.Document) (Vote, error) {
	var d voteDoc
	if err := doc.Decode(&d); err != nil {
		return Vote{}, malformed(doc, "%v", err)
	}
	if d.UID == nil || *d.UID != doc.ID() {
		return Vote{}, malformed(doc, "uid does not match document")
	}
	if d.Value == nil || !ValidCard(*d.Value) {
		return Vote{}, malformed(doc, "value outside card set")
	}
	v := Vote{UID: *d.UID, Value: *d.Value}
	if d.CreatedAt != nil {
		v.CreatedAt = *d.CreatedAt
	}
	return v, nil
}
