package history

import (
	"context"
	"errors"
	"time"

	"github.com/landrop-server/landrop-server/internal/models"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
)

// Entry is one finished transfer session, kept for the UI's history view.
type Entry struct {
	ID              string               `json:"id"`
	SessionID       string               `json:"sessionId"`
	Direction       string               `json:"direction"` // receive | send
	PeerAlias       string               `json:"peerAlias"`
	PeerFingerprint string               `json:"peerFingerprint"`
	Status          models.SessionStatus `json:"status"`
	FileCount       int                  `json:"fileCount"`
	TotalBytes      int64                `json:"totalBytes"`
	StartedAt       time.Time            `json:"startedAt"`
	FinishedAt      time.Time            `json:"finishedAt"`
}

// Store persists transfer history. Implementations: in-memory and
// Postgres.
type Store interface {
	Record(ctx context.Context, entry *Entry) error
	List(ctx context.Context, limit, offset int) ([]*Entry, int64, error)
	Close() error
}

// FromSession builds a history entry from a terminal session.
func FromSession(session *models.Session, direction string) *Entry {
	return &Entry{
		SessionID:       session.SessionID,
		Direction:       direction,
		PeerAlias:       session.Sender.Alias,
		PeerFingerprint: session.Sender.Fingerprint,
		Status:          session.Status,
		FileCount:       len(session.Files),
		TotalBytes:      session.TotalSize(),
		StartedAt:       session.CreatedAt,
		FinishedAt:      session.FinishedAt,
	}
}
