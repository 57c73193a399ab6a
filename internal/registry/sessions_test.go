package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landrop-server/landrop-server/internal/models"
)

func testSender() models.Device {
	return models.Device{
		Fingerprint: "abcdef0123456789",
		Alias:       "Test Phone",
		IPAddress:   "192.168.1.50",
		Port:        models.DefaultPort,
		Protocol:    "http",
	}
}

func testManifest() map[string]models.FileMetadata {
	return map[string]models.FileMetadata{
		"f1": {FileName: "photo.jpg", Size: 1024, FileType: "image/jpeg"},
		"f2": {FileName: "notes.txt", Size: 64, FileType: "text/plain"},
	}
}

func TestSessionCreate(t *testing.T) {
	r := NewSessionRegistry()

	session, err := r.Create(testSender(), testManifest())
	require.NoError(t, err)
	require.NotEmpty(t, session.SessionID)
	assert.Equal(t, models.SessionPending, session.Status)
	assert.Len(t, session.Files, 2)

	tokens := r.Tokens(session.SessionID)
	require.Len(t, tokens, 2)
	assert.NotEmpty(t, tokens["f1"])
	assert.NotEmpty(t, tokens["f2"])
	assert.NotEqual(t, tokens["f1"], tokens["f2"])

	// the file id is written back into the metadata
	got, ok := r.Get(session.SessionID)
	require.True(t, ok)
	assert.Equal(t, "f1", got.Files["f1"].Info.ID)
}

func TestSessionUploadLifecycle(t *testing.T) {
	r := NewSessionRegistry()
	session, err := r.Create(testSender(), testManifest())
	require.NoError(t, err)
	tokens := r.Tokens(session.SessionID)

	// writes are rejected while pending
	_, err = r.BeginUpload(session.SessionID, "f1", tokens["f1"])
	assert.ErrorIs(t, err, ErrSessionClosed)

	require.NoError(t, r.Accept(session.SessionID))

	info, err := r.BeginUpload(session.SessionID, "f1", tokens["f1"])
	require.NoError(t, err)
	assert.Equal(t, "photo.jpg", info.FileName)

	status, ok := r.Status(session.SessionID)
	require.True(t, ok)
	assert.Equal(t, models.SessionReceiving, status)

	completed, err := r.FinishFile(session.SessionID, "f1", "/tmp/photo.jpg")
	require.NoError(t, err)
	assert.False(t, completed)

	_, err = r.BeginUpload(session.SessionID, "f2", tokens["f2"])
	require.NoError(t, err)
	completed, err = r.FinishFile(session.SessionID, "f2", "/tmp/notes.txt")
	require.NoError(t, err)
	assert.True(t, completed)

	status, _ = r.Status(session.SessionID)
	assert.Equal(t, models.SessionCompleted, status)
}

func TestSessionTokenValidation(t *testing.T) {
	r := NewSessionRegistry()
	session, err := r.Create(testSender(), testManifest())
	require.NoError(t, err)
	require.NoError(t, r.Accept(session.SessionID))
	tokens := r.Tokens(session.SessionID)

	_, err = r.BeginUpload(session.SessionID, "f1", "wrong-token")
	assert.ErrorIs(t, err, ErrForbidden)

	// a token is bound to its file, not the session
	_, err = r.BeginUpload(session.SessionID, "f1", tokens["f2"])
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = r.BeginUpload(session.SessionID, "unknown", tokens["f1"])
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.BeginUpload("no-such-session", "f1", tokens["f1"])
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionTokensNotValidAcrossSessions(t *testing.T) {
	r := NewSessionRegistry()

	first, err := r.Create(testSender(), testManifest())
	require.NoError(t, err)
	second, err := r.Create(testSender(), testManifest())
	require.NoError(t, err)
	require.NoError(t, r.Accept(first.SessionID))
	require.NoError(t, r.Accept(second.SessionID))

	firstTokens := r.Tokens(first.SessionID)

	// both manifests share the file id, the token still does not carry over
	_, err = r.BeginUpload(second.SessionID, "f1", firstTokens["f1"])
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = r.BeginUpload(first.SessionID, "f1", firstTokens["f1"])
	require.NoError(t, err)
}

func TestSessionProbeAllowedWhilePending(t *testing.T) {
	r := NewSessionRegistry()
	session, err := r.Create(testSender(), testManifest())
	require.NoError(t, err)
	tokens := r.Tokens(session.SessionID)

	info, err := r.ValidateProbe(session.SessionID, "f1", tokens["f1"])
	require.NoError(t, err)
	assert.Equal(t, "photo.jpg", info.FileName)

	_, err = r.ValidateProbe(session.SessionID, "f1", "bad")
	assert.ErrorIs(t, err, ErrForbidden)

	r.Cancel(session.SessionID)
	_, err = r.ValidateProbe(session.SessionID, "f1", tokens["f1"])
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionCancel(t *testing.T) {
	r := NewSessionRegistry()
	session, err := r.Create(testSender(), testManifest())
	require.NoError(t, err)

	assert.True(t, r.Cancel(session.SessionID))
	// idempotent
	assert.False(t, r.Cancel(session.SessionID))
	assert.False(t, r.Cancel("no-such-session"))

	status, ok := r.Status(session.SessionID)
	require.True(t, ok)
	assert.Equal(t, models.SessionCancelled, status)

	// cancelled sessions refuse writes
	tokens := r.Tokens(session.SessionID)
	_, err = r.BeginUpload(session.SessionID, "f1", tokens["f1"])
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionCancelDoesNotTouchCompleted(t *testing.T) {
	r := NewSessionRegistry()
	session, err := r.Create(testSender(), map[string]models.FileMetadata{
		"f1": {FileName: "one.bin", Size: 10},
	})
	require.NoError(t, err)
	tokens := r.Tokens(session.SessionID)

	require.NoError(t, r.Accept(session.SessionID))
	_, err = r.BeginUpload(session.SessionID, "f1", tokens["f1"])
	require.NoError(t, err)
	completed, err := r.FinishFile(session.SessionID, "f1", "/tmp/one.bin")
	require.NoError(t, err)
	require.True(t, completed)

	assert.False(t, r.Cancel(session.SessionID))
	status, _ := r.Status(session.SessionID)
	assert.Equal(t, models.SessionCompleted, status)
}

func TestSessionSweepTerminal(t *testing.T) {
	r := NewSessionRegistry()

	active, err := r.Create(testSender(), testManifest())
	require.NoError(t, err)

	done, err := r.Create(testSender(), testManifest())
	require.NoError(t, err)
	require.True(t, r.Cancel(done.SessionID))

	// too recent to sweep
	assert.Equal(t, 0, r.SweepTerminal(time.Now(), time.Minute))

	removed := r.SweepTerminal(time.Now().Add(10*time.Minute), time.Minute)
	assert.Equal(t, 1, removed)

	_, ok := r.Get(done.SessionID)
	assert.False(t, ok)
	_, ok = r.Get(active.SessionID)
	assert.True(t, ok)
}

func TestSessionSnapshotIsolation(t *testing.T) {
	r := NewSessionRegistry()
	session, err := r.Create(testSender(), testManifest())
	require.NoError(t, err)

	snap, ok := r.Get(session.SessionID)
	require.True(t, ok)
	snap.Status = models.SessionCancelled
	snap.Files["f1"].Received = true

	fresh, ok := r.Get(session.SessionID)
	require.True(t, ok)
	assert.Equal(t, models.SessionPending, fresh.Status)
	assert.False(t, fresh.Files["f1"].Received)
}
