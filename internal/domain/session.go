package domain

import (
	"time"
)

// Role identifies who authored a message.
type Role string

// Message authors.
const (
	RoleUser  Role = "user"
	RoleCoach Role = "coach"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleCoach
}

// Message is one entry of a coaching conversation.
// CreatedAt is Unix milliseconds and strictly increases within a session.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	CreatedAt int64          `json:"createdAt"`
	Stage     Stage          `json:"stage,omitempty"`
	State     *CoachingState `json:"state,omitempty"`
	CoachType CoachType      `json:"coachType,omitempty"`
}

// SessionRecord is the persisted metadata document of a session.
// Stage and CoachType are stored as plain strings so legacy values survive
// a round trip and can be normalized on read.
type SessionRecord struct {
	UserID    string
	SessionID string
	Stage     string
	CoachType string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MessageRecord is a persisted message document.
type MessageRecord struct {
	UserID    string
	SessionID string
	MessageID string
	Role      string
	Content   string
	CreatedAt int64
	Stage     string
	StateJSON string
	CoachType string
}

// FaceSheetRecord is the persisted intake profile of a user.
type FaceSheetRecord struct {
	UserID    string
	Data      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}
