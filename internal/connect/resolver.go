package connect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/landrop-server/landrop-server/internal/models"
	"github.com/landrop-server/landrop-server/internal/registry"
)

const probeTimeout = time.Second

// Resolver finds peers without multicast: by literal IP address or by
// connection key. Key resolution is a lookup against already-discovered
// peers, not a network scan.
type Resolver struct {
	self    models.SelfDescription
	devices *registry.DeviceRegistry
	client  *http.Client
	port    int
}

// NewResolver creates a manual-connect resolver
func NewResolver(self models.SelfDescription, devices *registry.DeviceRegistry) *Resolver {
	return &Resolver{
		self:    self,
		devices: devices,
		client:  &http.Client{Timeout: probeTimeout},
		port:    models.DefaultPort,
	}
}

// ByIP probes a host's register endpoint and returns the peer found
// there. Any failure (timeout, refusal, bad payload) comes back as
// (nil, nil): callers only care whether a peer was found. The probe never
// returns this node itself.
func (r *Resolver) ByIP(ctx context.Context, ip string) (*models.Device, error) {
	device, err := r.probe(ctx, ip)
	if err != nil {
		log.Debug().Err(err).Str("ip", ip).Msg("Manual connect probe failed")
		return nil, nil
	}
	if device != nil {
		r.devices.Upsert(device)
	}
	return device, nil
}

// Probe is the raw register probe, exposed for the HTTP-scan discovery
// transport. Unlike ByIP it surfaces errors and does not touch the
// registry.
func (r *Resolver) Probe(ctx context.Context, ip string) (*models.Device, error) {
	return r.probe(ctx, ip)
}

func (r *Resolver) probe(ctx context.Context, ip string) (*models.Device, error) {
	body, err := json.Marshal(r.self)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s:%d/api/localsend/v2/register", ip, r.port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("register probe: status %d", resp.StatusCode)
	}

	var peer models.SelfDescription
	if err := json.NewDecoder(resp.Body).Decode(&peer); err != nil {
		return nil, fmt.Errorf("decode register response: %w", err)
	}
	if peer.Fingerprint == "" || peer.Fingerprint == r.self.Fingerprint {
		return nil, nil
	}

	device := peer.Device(ip)
	device.LastSeen = time.Now()
	device.IsOnline = true
	return device, nil
}

// ByKey resolves a connection key against the device registry. Returns
// nil when no discovered peer matches.
func (r *Resolver) ByKey(key string) *models.Device {
	normalized := NormalizeKey(key)
	if !ValidKey(normalized) {
		return nil
	}
	for _, device := range r.devices.List() {
		if Key(device.Fingerprint) == normalized {
			return device
		}
	}
	return nil
}
