package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/landrop-server/landrop-server/internal/models"
	"github.com/landrop-server/landrop-server/pkg/crypto"
)

const tokenBytes = 24

// SessionRegistry is the in-memory table of transfer sessions. Every
// status transition happens under the registry lock so concurrent uploads
// and cancels always observe a consistent session.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// NewSessionRegistry creates an empty session registry
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*models.Session),
	}
}

// Create builds a pending session for the given sender and manifest,
// generating the session id and one upload token per file.
func (r *SessionRegistry) Create(sender models.Device, files map[string]models.FileMetadata) (*models.Session, error) {
	session := &models.Session{
		SessionID: uuid.NewString(),
		Sender:    sender,
		Files:     make(map[string]*models.FileSlot, len(files)),
		Status:    models.SessionPending,
		CreatedAt: time.Now(),
	}

	for fileID, info := range files {
		token, err := crypto.GenerateRandomString(tokenBytes)
		if err != nil {
			return nil, fmt.Errorf("generate file token: %w", err)
		}
		info.ID = fileID
		session.Files[fileID] = &models.FileSlot{
			Info:  info,
			Token: token,
		}
	}

	r.mu.Lock()
	r.sessions[session.SessionID] = session
	r.mu.Unlock()

	log.Debug().
		Str("session", session.SessionID).
		Str("sender", sender.Alias).
		Int("files", len(files)).
		Msg("Session created")

	return r.snapshot(session.SessionID), nil
}

// Get returns a snapshot of the session.
func (r *SessionRegistry) Get(sessionID string) (*models.Session, bool) {
	s := r.snapshot(sessionID)
	return s, s != nil
}

// snapshot copies a session, including its file slots.
func (r *SessionRegistry) snapshot(sessionID string) *models.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	copied := *session
	copied.Files = make(map[string]*models.FileSlot, len(session.Files))
	for id, slot := range session.Files {
		slotCopy := *slot
		copied.Files[id] = &slotCopy
	}
	return &copied
}

// Tokens returns the per-file token map for the prepare-upload response.
func (r *SessionRegistry) Tokens(sessionID string) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	tokens := make(map[string]string, len(session.Files))
	for id, slot := range session.Files {
		tokens[id] = slot.Token
	}
	return tokens
}

// Accept moves a pending session to accepted.
func (r *SessionRegistry) Accept(sessionID string) error {
	return r.advance(sessionID, models.SessionAccepted)
}

// Status returns the current status. Used to re-validate between blocking
// I/O steps in the upload path.
func (r *SessionRegistry) Status(sessionID string) (models.SessionStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return "", false
	}
	return session.Status, true
}

// BeginUpload validates a write attempt against session state and the
// file's token, and transitions the session to receiving on the first
// accepted write. It returns the file metadata for the receipt engine.
func (r *SessionRegistry) BeginUpload(sessionID, fileID, token string) (models.FileMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return models.FileMetadata{}, ErrNotFound
	}

	switch session.Status {
	case models.SessionAccepted, models.SessionReceiving:
	default:
		// pending sessions may be probed but never written to
		return models.FileMetadata{}, ErrSessionClosed
	}

	slot, ok := session.Files[fileID]
	if !ok {
		return models.FileMetadata{}, fmt.Errorf("file %s: %w", fileID, ErrNotFound)
	}
	if slot.Token != token {
		return models.FileMetadata{}, ErrForbidden
	}

	session.Status = models.SessionReceiving
	return slot.Info, nil
}

// ValidateProbe authorizes a read-only resume probe. Unlike writes, probes
// are allowed while the session is still pending.
func (r *SessionRegistry) ValidateProbe(sessionID, fileID, token string) (models.FileMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return models.FileMetadata{}, ErrNotFound
	}
	if session.Status.Terminal() {
		return models.FileMetadata{}, ErrSessionClosed
	}

	slot, ok := session.Files[fileID]
	if !ok {
		return models.FileMetadata{}, fmt.Errorf("file %s: %w", fileID, ErrNotFound)
	}
	if slot.Token != token {
		return models.FileMetadata{}, ErrForbidden
	}
	return slot.Info, nil
}

// FinishFile marks a file slot received and records its on-disk path.
// When the last outstanding slot is received the session completes; the
// return value reports that transition.
func (r *SessionRegistry) FinishFile(sessionID, fileID, path string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return false, ErrNotFound
	}
	if session.Status != models.SessionReceiving {
		return false, ErrSessionClosed
	}

	slot, ok := session.Files[fileID]
	if !ok {
		return false, fmt.Errorf("file %s: %w", fileID, ErrNotFound)
	}
	slot.Received = true
	slot.Path = path

	if session.AllReceived() {
		session.Status = models.SessionCompleted
		session.FinishedAt = time.Now()
		log.Info().
			Str("session", sessionID).
			Int("files", len(session.Files)).
			Msg("Session completed")
		return true, nil
	}
	return false, nil
}

// Cancel moves a session to cancelled. Idempotent; a completed session is
// left untouched. The return value reports whether the state changed.
func (r *SessionRegistry) Cancel(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	if !session.Status.CanAdvanceTo(models.SessionCancelled) || session.Status == models.SessionCancelled {
		return false
	}
	session.Status = models.SessionCancelled
	session.FinishedAt = time.Now()
	log.Info().Str("session", sessionID).Msg("Session cancelled")
	return true
}

// Remove deletes a session outright. Used when a pending session is
// rejected before any bytes moved.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// List returns snapshots of all sessions.
func (r *SessionRegistry) List() []*models.Session {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	out := make([]*models.Session, 0, len(ids))
	for _, id := range ids {
		if s := r.snapshot(id); s != nil {
			out = append(out, s)
		}
	}
	return out
}

// SweepTerminal removes sessions that reached a terminal state more than
// retention ago, so the table cannot grow without bound.
func (r *SessionRegistry) SweepTerminal(now time.Time, retention time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, session := range r.sessions {
		if session.Status.Terminal() && !session.FinishedAt.IsZero() &&
			now.Sub(session.FinishedAt) > retention {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("Swept terminal sessions")
	}
	return removed
}

// advance applies a forward transition under the lock.
func (r *SessionRegistry) advance(sessionID string, next models.SessionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if !session.Status.CanAdvanceTo(next) {
		return fmt.Errorf("transition %s -> %s: %w", session.Status, next, ErrSessionClosed)
	}
	session.Status = next
	return nil
}
