package events

import (
	"time"

	"github.com/landrop-server/landrop-server/internal/models"
)

// Type identifies a transfer lifecycle event.
type Type string

const (
	TypePeerSeen         Type = "peer_seen"
	TypePeerOffline      Type = "peer_offline"
	TypeIncomingRequest  Type = "incoming_request"
	TypeSessionAccepted  Type = "session_accepted"
	TypeSessionDeclined  Type = "session_declined"
	TypeFileProgress     Type = "file_progress"
	TypeFileReceived     Type = "file_received"
	TypeSessionCompleted Type = "session_completed"
	TypeSessionCancelled Type = "session_cancelled"
)

// Event is one transfer or discovery lifecycle notification. Only the
// fields relevant to the event type are populated.
type Event struct {
	Type      Type                  `json:"type"`
	Time      time.Time             `json:"time"`
	SessionID string                `json:"sessionId,omitempty"`
	Device    *models.Device        `json:"device,omitempty"`
	FileID    string                `json:"fileId,omitempty"`
	FileName  string                `json:"fileName,omitempty"`
	Bytes     int64                 `json:"bytes,omitempty"`
	Total     int64                 `json:"total,omitempty"`
	Files     []models.FileMetadata `json:"files,omitempty"`
}

// Sink receives lifecycle events. Implementations must not block the
// caller; the transfer path emits events inline.
type Sink interface {
	Publish(Event)
}
