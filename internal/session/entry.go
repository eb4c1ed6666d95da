// Package session keeps the conversation view of coaching sessions in a
// cache and in sync with the durable store.
package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/grow-coach/internal/domain"
)

// Entry is the cached view of one session.
// Messages are append-only; a Message is never mutated after creation.
type Entry struct {
	UserID           string           `json:"userId"`
	SessionID        string           `json:"sessionId"`
	Messages         []domain.Message `json:"messages"`
	Stage            domain.Stage     `json:"stage"`
	CoachType        domain.CoachType `json:"coachType"`
	FaceSheetSummary string           `json:"faceSheetSummary,omitempty"`
	HasSummary       bool             `json:"hasSummary,omitempty"`
}

// Clone returns a copy that shares no slices with e.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Messages = make([]domain.Message, len(e.Messages))
	copy(c.Messages, e.Messages)
	return &c
}

// LastCreatedAt returns the timestamp of the newest message, or 0.
func (e *Entry) LastCreatedAt() int64 {
	if len(e.Messages) == 0 {
		return 0
	}
	return e.Messages[len(e.Messages)-1].CreatedAt
}

// Key identifies a session across users. The user id is length-prefixed so
// ids containing ':' cannot collide.
func Key(userID, sessionID string) string {
	return fmt.Sprintf("%d:%s:%s", len(userID), userID, sessionID)
}

// owns reports whether e is the view of the given user's session.
func (e *Entry) owns(userID, sessionID string) bool {
	return e != nil && e.UserID == userID && e.SessionID == sessionID
}

func recordFromMessage(userID, sessionID string, m domain.Message) (domain.MessageRecord, error) {
	rec := domain.MessageRecord{
		UserID:    userID,
		SessionID: sessionID,
		MessageID: m.ID,
		Role:      string(m.Role),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		Stage:     string(m.Stage),
		CoachType: string(m.CoachType),
	}
	if m.State != nil {
		data, err := json.Marshal(m.State)
		if err != nil {
			return domain.MessageRecord{}, fmt.Errorf("encode state: %w", err)
		}
		rec.StateJSON = string(data)
	}
	return rec, nil
}

// messageFromRecord rebuilds a message from its persisted form. Records with
// an unknown role, no content, no timestamp, or an unreadable state are
// rejected.
func messageFromRecord(rec domain.MessageRecord) (domain.Message, error) {
	role := domain.Role(rec.Role)
	if !role.Valid() {
		return domain.Message{}, fmt.Errorf("unknown role %q", rec.Role)
	}
	if strings.TrimSpace(rec.Content) == "" {
		return domain.Message{}, fmt.Errorf("empty content")
	}
	if rec.CreatedAt <= 0 {
		return domain.Message{}, fmt.Errorf("missing createdAt")
	}

	m := domain.Message{
		ID:        rec.MessageID,
		Role:      role,
		Content:   rec.Content,
		CreatedAt: rec.CreatedAt,
		Stage:     domain.NormalizeStage(rec.Stage),
	}
	if rec.CoachType != "" {
		m.CoachType = domain.NormalizeCoachType(rec.CoachType)
	}
	if rec.StateJSON != "" {
		st, err := domain.ParseState([]byte(rec.StateJSON), m.Stage)
		if err != nil {
			return domain.Message{}, fmt.Errorf("decode state: %w", err)
		}
		m.State = &st
		if m.Stage == domain.StageUndefined {
			m.Stage = st.Stage
		}
	}
	return m, nil
}
