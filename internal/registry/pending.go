package registry

import (
	"sync"

	"github.com/landrop-server/landrop-server/internal/models"
)

// PendingAcceptance is one incoming transfer request awaiting a human
// decision. The decision channel receives exactly one value.
type PendingAcceptance struct {
	SessionID string
	Request   models.PrepareUploadRequest
	Decision  <-chan bool

	ch       chan bool
	resolved bool
}

// PendingAcceptances tracks requests blocked in prepare-upload until the
// acceptance UI (or the timeout) resolves them. Resolution is exactly-once:
// a second resolve for the same session is a no-op.
type PendingAcceptances struct {
	mu      sync.Mutex
	pending map[string]*PendingAcceptance
}

// NewPendingAcceptances creates an empty pending-acceptance table
func NewPendingAcceptances() *PendingAcceptances {
	return &PendingAcceptances{
		pending: make(map[string]*PendingAcceptance),
	}
}

// Register records a pending request and returns the entry whose Decision
// channel the caller blocks on.
func (p *PendingAcceptances) Register(sessionID string, request models.PrepareUploadRequest) *PendingAcceptance {
	ch := make(chan bool, 1)
	entry := &PendingAcceptance{
		SessionID: sessionID,
		Request:   request,
		Decision:  ch,
		ch:        ch,
	}

	p.mu.Lock()
	p.pending[sessionID] = entry
	p.mu.Unlock()

	return entry
}

// Resolve delivers the decision for a pending session. Returns false when
// the session is unknown or was already resolved.
func (p *PendingAcceptances) Resolve(sessionID string, accepted bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.pending[sessionID]
	if !ok || entry.resolved {
		return false
	}
	entry.resolved = true
	entry.ch <- accepted
	delete(p.pending, sessionID)
	return true
}

// List returns the session ids currently awaiting a decision.
func (p *PendingAcceptances) List() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.pending))
	for id := range p.pending {
		ids = append(ids, id)
	}
	return ids
}
