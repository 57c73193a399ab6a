package models

import "time"

// Protocol constants shared across discovery and transfer.
const (
	DefaultPort      = 53317
	MulticastGroup   = "224.0.0.167"
	ProtocolVersion  = "2.0"
	AnnounceInterval = 5 * time.Second
	DeviceTimeout    = 30 * time.Second
	AcceptTimeout    = 120 * time.Second

	// StreamChunkSize is the chunk size for resumable large-file uploads.
	StreamChunkSize = int64(8 << 20)
)

// FileMetadata is the sender-declared description of one file in a
// manifest. Size is authoritative for completion detection; SHA256 is
// optional and only checked when checksum verification is enabled.
type FileMetadata struct {
	ID       string `json:"id"`
	FileName string `json:"fileName"`
	Size     int64  `json:"size"`
	FileType string `json:"fileType,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
	Preview  string `json:"preview,omitempty"`
}

// SessionStatus is the lifecycle state of a transfer session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionAccepted  SessionStatus = "accepted"
	SessionReceiving SessionStatus = "receiving"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// CanAdvanceTo reports whether a transition is allowed. Status only moves
// forward (pending -> accepted -> receiving -> completed) or diverts to
// cancelled from any non-completed state.
func (s SessionStatus) CanAdvanceTo(next SessionStatus) bool {
	if s == next {
		return true
	}
	switch next {
	case SessionAccepted:
		return s == SessionPending
	case SessionReceiving:
		return s == SessionAccepted
	case SessionCompleted:
		return s == SessionReceiving
	case SessionCancelled:
		return s != SessionCompleted
	default:
		return false
	}
}

// FileSlot tracks one file inside a session: its declared metadata, the
// upload token that authorizes writes to it, and receipt state.
type FileSlot struct {
	Info     FileMetadata `json:"info"`
	Token    string       `json:"-"`
	Received bool         `json:"received"`
	Path     string       `json:"path,omitempty"`
}

// Session is one negotiated transfer exchange. Mutation goes through the
// session registry; the struct itself carries no locking.
type Session struct {
	SessionID  string               `json:"sessionId"`
	Sender     Device               `json:"sender"`
	Files      map[string]*FileSlot `json:"files"`
	Status     SessionStatus        `json:"status"`
	CreatedAt  time.Time            `json:"createdAt"`
	FinishedAt time.Time            `json:"finishedAt,omitempty"`
}

// TotalSize returns the declared byte total of the manifest.
func (s *Session) TotalSize() int64 {
	var total int64
	for _, slot := range s.Files {
		total += slot.Info.Size
	}
	return total
}

// AllReceived reports whether every file slot has been received.
func (s *Session) AllReceived() bool {
	for _, slot := range s.Files {
		if !slot.Received {
			return false
		}
	}
	return true
}
