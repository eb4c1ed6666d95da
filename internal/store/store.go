// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/grow-coach/internal/domain"
)

// MessageQuery selects a timestamp-ordered range of a session's messages.
type MessageQuery struct {
	// Before, when non-zero, keeps only messages with CreatedAt < Before.
	Before int64
	// Limit, when positive, caps the number of messages returned. The most
	// recent messages are kept.
	Limit int
}

// TurnBatch is the set of documents one coaching turn writes atomically.
type TurnBatch struct {
	Session  domain.SessionRecord
	Messages []domain.MessageRecord
}

// Repository is the durable per-user document store.
// Get methods return (nil, nil) when the document does not exist.
type Repository interface {
	// GetSession retrieves session metadata by id.
	GetSession(ctx context.Context, userID, sessionID string) (*domain.SessionRecord, error)

	// ListMessages returns a session's messages in ascending CreatedAt order.
	ListMessages(ctx context.Context, userID, sessionID string, q MessageQuery) ([]domain.MessageRecord, error)

	// MergeSession creates the session or updates its non-empty fields.
	// CreatedAt of an existing session is preserved.
	MergeSession(ctx context.Context, rec *domain.SessionRecord) error

	// CommitTurn writes the batch's messages and session metadata in one
	// transaction. Either every document is written or none is.
	CommitTurn(ctx context.Context, batch TurnBatch) error

	// GetFaceSheet retrieves a user's stored face sheet.
	GetFaceSheet(ctx context.Context, userID string) (*domain.FaceSheetRecord, error)

	// MergeFaceSheet creates or replaces a user's face sheet data, keeping
	// the original CreatedAt.
	MergeFaceSheet(ctx context.Context, rec *domain.FaceSheetRecord) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
