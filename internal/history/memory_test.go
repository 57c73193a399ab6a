package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landrop-server/landrop-server/internal/models"
)

func TestMemoryStoreRecordAndList(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Record(ctx, &Entry{SessionID: fmt.Sprintf("s%d", i)}))
	}

	entries, total, err := s.List(ctx, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, entries, 3)
	// newest first
	assert.Equal(t, "s2", entries[0].SessionID)
	assert.Equal(t, "s0", entries[2].SessionID)
	// ids are assigned on record
	assert.NotEmpty(t, entries[0].ID)
}

func TestMemoryStorePagination(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, &Entry{SessionID: fmt.Sprintf("s%d", i)}))
	}

	entries, total, err := s.List(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, entries, 2)
	assert.Equal(t, "s3", entries[0].SessionID)
	assert.Equal(t, "s2", entries[1].SessionID)

	// offset past the end
	entries, total, err = s.List(ctx, 10, 99)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Empty(t, entries)
}

func TestMemoryStoreCap(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Record(ctx, &Entry{SessionID: fmt.Sprintf("s%d", i)}))
	}

	entries, total, err := s.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, entries, 2)
	assert.Equal(t, "s3", entries[0].SessionID)
}

func TestFromSession(t *testing.T) {
	now := time.Now()
	session := &models.Session{
		SessionID: "s1",
		Sender:    models.Device{Alias: "Phone", Fingerprint: "fp"},
		Files: map[string]*models.FileSlot{
			"a": {Info: models.FileMetadata{Size: 100}},
			"b": {Info: models.FileMetadata{Size: 20}},
		},
		Status:     models.SessionCompleted,
		CreatedAt:  now.Add(-time.Minute),
		FinishedAt: now,
	}

	entry := FromSession(session, "receive")
	assert.Equal(t, "s1", entry.SessionID)
	assert.Equal(t, "receive", entry.Direction)
	assert.Equal(t, "Phone", entry.PeerAlias)
	assert.Equal(t, models.SessionCompleted, entry.Status)
	assert.Equal(t, 2, entry.FileCount)
	assert.Equal(t, int64(120), entry.TotalBytes)
	assert.Equal(t, now, entry.FinishedAt)
}
