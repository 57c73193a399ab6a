package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landrop-server/landrop-server/internal/models"
)

func TestPendingResolveOnce(t *testing.T) {
	p := NewPendingAcceptances()
	entry := p.Register("s1", models.PrepareUploadRequest{})

	assert.True(t, p.Resolve("s1", true))
	// second resolve loses the race
	assert.False(t, p.Resolve("s1", false))

	accepted := <-entry.Decision
	assert.True(t, accepted)
}

func TestPendingResolveUnknown(t *testing.T) {
	p := NewPendingAcceptances()
	assert.False(t, p.Resolve("nope", true))
}

func TestPendingResolveDoesNotBlock(t *testing.T) {
	p := NewPendingAcceptances()
	p.Register("s1", models.PrepareUploadRequest{})

	// nobody is reading the decision channel; the buffered send must
	// still return
	done := make(chan struct{})
	go func() {
		p.Resolve("s1", false)
		close(done)
	}()
	<-done
}

func TestPendingList(t *testing.T) {
	p := NewPendingAcceptances()
	p.Register("s1", models.PrepareUploadRequest{})
	p.Register("s2", models.PrepareUploadRequest{})

	assert.ElementsMatch(t, []string{"s1", "s2"}, p.List())

	require.True(t, p.Resolve("s1", true))
	assert.Equal(t, []string{"s2"}, p.List())
}
