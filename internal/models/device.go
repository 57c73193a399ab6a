package models

import (
	"fmt"
	"time"
)

// Device represents a peer discovered on the local network. Identity is the
// fingerprint; everything else is merged from the latest sighting.
type Device struct {
	Fingerprint string    `json:"fingerprint"`
	Alias       string    `json:"alias"`
	DeviceModel string    `json:"deviceModel,omitempty"`
	DeviceType  string    `json:"deviceType,omitempty"`
	IPAddress   string    `json:"ipAddress"`
	Port        int       `json:"port"`
	Protocol    string    `json:"protocol"`
	Version     string    `json:"version"`
	LastSeen    time.Time `json:"lastSeen"`
	IsOnline    bool      `json:"isOnline"`
}

// Address returns the base URL for the peer's transfer API.
func (d *Device) Address() string {
	proto := d.Protocol
	if proto == "" {
		proto = "http"
	}
	return fmt.Sprintf("%s://%s:%d", proto, d.IPAddress, d.Port)
}
