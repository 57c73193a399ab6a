package registry

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/landrop-server/landrop-server/internal/models"
)

// DeviceRegistry is the in-memory table of known peers, keyed by
// fingerprint. Insertion order is preserved so list snapshots are stable
// for UI consumers. All methods are safe for concurrent use.
type DeviceRegistry struct {
	mu      sync.RWMutex
	devices map[string]*models.Device
	order   []string
}

// NewDeviceRegistry creates an empty device registry
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{
		devices: make(map[string]*models.Device),
	}
}

// Upsert merges or inserts a peer by fingerprint. The entry always comes
// out online with a refreshed last-seen timestamp. Empty fields in the
// update do not clobber known values.
func (r *DeviceRegistry) Upsert(device *models.Device) {
	if device == nil || device.Fingerprint == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.devices[device.Fingerprint]
	if !ok {
		entry := *device
		entry.IsOnline = true
		if entry.LastSeen.IsZero() {
			entry.LastSeen = time.Now()
		}
		r.devices[device.Fingerprint] = &entry
		r.order = append(r.order, device.Fingerprint)
		log.Debug().
			Str("fingerprint", device.Fingerprint).
			Str("alias", device.Alias).
			Str("addr", device.IPAddress).
			Msg("Peer registered")
		return
	}

	if device.Alias != "" {
		existing.Alias = device.Alias
	}
	if device.DeviceModel != "" {
		existing.DeviceModel = device.DeviceModel
	}
	if device.DeviceType != "" {
		existing.DeviceType = device.DeviceType
	}
	if device.IPAddress != "" {
		existing.IPAddress = device.IPAddress
	}
	if device.Port != 0 {
		existing.Port = device.Port
	}
	if device.Protocol != "" {
		existing.Protocol = device.Protocol
	}
	if device.Version != "" {
		existing.Version = device.Version
	}
	existing.IsOnline = true
	existing.LastSeen = time.Now()
}

// Get returns a copy of the peer with the given fingerprint.
func (r *DeviceRegistry) Get(fingerprint string) (*models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	device, ok := r.devices[fingerprint]
	if !ok {
		return nil, false
	}
	copied := *device
	return &copied, true
}

// MarkOffline marks a peer offline without removing it.
func (r *DeviceRegistry) MarkOffline(fingerprint string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if device, ok := r.devices[fingerprint]; ok {
		device.IsOnline = false
	}
}

// Remove deletes a peer from the registry.
func (r *DeviceRegistry) Remove(fingerprint string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[fingerprint]; !ok {
		return
	}
	delete(r.devices, fingerprint)
	for i, fp := range r.order {
		if fp == fingerprint {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Clear removes every peer.
func (r *DeviceRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices = make(map[string]*models.Device)
	r.order = nil
}

// List returns a snapshot of all peers in insertion order.
func (r *DeviceRegistry) List() []*models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Device, 0, len(r.order))
	for _, fp := range r.order {
		if device, ok := r.devices[fp]; ok {
			copied := *device
			out = append(out, &copied)
		}
	}
	return out
}

// SweepTimeouts marks every peer silent for longer than timeout as
// offline and returns the fingerprints that changed state. Idempotent: a
// peer already offline stays offline and is never removed.
func (r *DeviceRegistry) SweepTimeouts(now time.Time, timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var timedOut []string
	for _, device := range r.devices {
		if device.IsOnline && now.Sub(device.LastSeen) > timeout {
			device.IsOnline = false
			timedOut = append(timedOut, device.Fingerprint)
			log.Debug().
				Str("fingerprint", device.Fingerprint).
				Str("alias", device.Alias).
				Msg("Peer timed out")
		}
	}
	return timedOut
}
