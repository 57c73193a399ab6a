package models

// Wire messages for the LocalSend v2 protocol. Field names follow the
// wire format, not Go conventions.

// Announcement is the multicast presence beacon, sent every announce
// interval and parsed from inbound datagrams.
type Announcement struct {
	Alias       string `json:"alias"`
	Version     string `json:"version"`
	DeviceModel string `json:"deviceModel,omitempty"`
	DeviceType  string `json:"deviceType,omitempty"`
	Fingerprint string `json:"fingerprint"`
	Port        int    `json:"port"`
	Protocol    string `json:"protocol"`
	Download    bool   `json:"download,omitempty"`
	Announce    bool   `json:"announce"`
}

// Valid reports whether a received beacon carries the required fields.
func (a *Announcement) Valid() bool {
	return a.Alias != "" && a.Fingerprint != "" && a.Announce
}

// SelfDescription is the identity payload exchanged on /register and
// returned by /info. It is the Announcement minus the announce flag.
type SelfDescription struct {
	Alias       string `json:"alias"`
	Version     string `json:"version"`
	DeviceModel string `json:"deviceModel,omitempty"`
	DeviceType  string `json:"deviceType,omitempty"`
	Fingerprint string `json:"fingerprint"`
	Port        int    `json:"port"`
	Protocol    string `json:"protocol"`
	Download    bool   `json:"download,omitempty"`
}

// Device converts a self-description plus the observed sender address into
// a registry entry.
func (s *SelfDescription) Device(ipAddress string) *Device {
	port := s.Port
	if port == 0 {
		port = DefaultPort
	}
	proto := s.Protocol
	if proto == "" {
		proto = "http"
	}
	return &Device{
		Fingerprint: s.Fingerprint,
		Alias:       s.Alias,
		DeviceModel: s.DeviceModel,
		DeviceType:  s.DeviceType,
		IPAddress:   ipAddress,
		Port:        port,
		Protocol:    proto,
		Version:     s.Version,
	}
}

// PrepareUploadRequest starts the transfer handshake: sender identity plus
// the manifest of files it wants to push.
type PrepareUploadRequest struct {
	Info  SelfDescription         `json:"info"`
	Files map[string]FileMetadata `json:"files"`
}

// PrepareUploadResponse carries the session id and one upload token per
// file id.
type PrepareUploadResponse struct {
	SessionID string            `json:"sessionId"`
	Files     map[string]string `json:"files"`
}

// ProbeResponse answers a resume probe: whether a partial file exists on
// disk and how many bytes of it are already there.
type ProbeResponse struct {
	Exists bool  `json:"exists"`
	Size   int64 `json:"size"`
}
