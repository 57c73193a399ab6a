package discovery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/ipv4"

	"github.com/landrop-server/landrop-server/internal/models"
)

// Announcer is the multicast presence transport: it broadcasts this node's
// beacon on a fixed interval and turns inbound beacons into peer sightings.
//
// On every received beacon it also fires a best-effort unicast register
// POST back to the sender, so two nodes that are both only listening still
// become mutually known without waiting for the other side's next beacon.
type Announcer struct {
	self     models.Announcement
	group    string
	port     int
	interval time.Duration

	mu      sync.Mutex
	running bool
	conn    *net.UDPConn
	pc      *ipv4.PacketConn
	stop    chan struct{}
	wg      sync.WaitGroup

	client *http.Client
}

// NewAnnouncer creates a multicast announcer for the given identity
func NewAnnouncer(self models.SelfDescription, group string, port int, interval time.Duration) *Announcer {
	return &Announcer{
		self: models.Announcement{
			Alias:       self.Alias,
			Version:     self.Version,
			DeviceModel: self.DeviceModel,
			DeviceType:  self.DeviceType,
			Fingerprint: self.Fingerprint,
			Port:        self.Port,
			Protocol:    self.Protocol,
			Announce:    true,
		},
		group:    group,
		port:     port,
		interval: interval,
		client:   &http.Client{Timeout: 2 * time.Second},
	}
}

// Start binds the multicast socket, joins the group and begins the send
// and receive loops. Bind and join failures propagate; a second Start
// while running is a no-op.
func (a *Announcer) Start(onPeerSeen func(*models.Device)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return nil
	}

	addr := &net.UDPAddr{IP: net.IPv4zero, Port: a.port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("bind multicast socket: %w", err)
	}

	pc := ipv4.NewPacketConn(conn)
	group := &net.UDPAddr{IP: net.ParseIP(a.group)}
	joined := 0
	ifaces, _ := net.Interfaces()
	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if err := pc.JoinGroup(&iface, group); err == nil {
			joined++
		}
	}
	pc.SetMulticastTTL(4)
	if joined == 0 {
		// degraded: beacons still go out, but nothing multicast comes in
		log.Warn().Str("group", a.group).Msg("Could not join multicast group on any interface")
	}

	a.conn = conn
	a.pc = pc
	a.stop = make(chan struct{})
	a.running = true

	a.wg.Add(2)
	go a.announceLoop()
	go a.receiveLoop(onPeerSeen)

	log.Info().
		Str("group", a.group).
		Int("port", a.port).
		Int("interfaces", joined).
		Msg("Multicast discovery started")

	return nil
}

// Stop cancels the loops, leaves the group and closes the socket. Safe to
// call when never started, and idempotent.
func (a *Announcer) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	close(a.stop)

	group := &net.UDPAddr{IP: net.ParseIP(a.group)}
	ifaces, _ := net.Interfaces()
	for i := range ifaces {
		// tolerate "not joined" errors
		a.pc.LeaveGroup(&ifaces[i], group)
	}
	a.conn.Close()
	a.mu.Unlock()

	a.wg.Wait()
	log.Info().Msg("Multicast discovery stopped")
}

// announceLoop sends the presence beacon immediately and then on every
// tick until stopped.
func (a *Announcer) announceLoop() {
	defer a.wg.Done()

	a.sendAnnouncement()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.sendAnnouncement()
		}
	}
}

// sendAnnouncement broadcasts one beacon. Send errors are logged and do
// not stop the loop.
func (a *Announcer) sendAnnouncement() {
	payload, err := json.Marshal(a.self)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal announcement")
		return
	}

	dst := &net.UDPAddr{IP: net.ParseIP(a.group), Port: a.port}
	if _, err := a.conn.WriteToUDP(payload, dst); err != nil {
		log.Warn().Err(err).Msg("Failed to send announcement")
	}
}

// receiveLoop decodes inbound beacons into peer sightings.
func (a *Announcer) receiveLoop(onPeerSeen func(*models.Device)) {
	defer a.wg.Done()

	buf := make([]byte, 65507)
	for {
		n, addr, err := a.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-a.stop:
				return
			default:
				log.Warn().Err(err).Msg("Multicast read error")
				continue
			}
		}
		a.handleBeacon(buf[:n], addr, onPeerSeen)
	}
}

// handleBeacon validates one datagram and reports the peer.
func (a *Announcer) handleBeacon(data []byte, addr *net.UDPAddr, onPeerSeen func(*models.Device)) {
	var beacon models.Announcement
	if err := json.Unmarshal(data, &beacon); err != nil {
		log.Debug().Err(err).Str("addr", addr.String()).Msg("Discarding malformed beacon")
		return
	}

	if beacon.Fingerprint == a.self.Fingerprint {
		return
	}
	if !beacon.Valid() {
		return
	}

	port := beacon.Port
	if port == 0 {
		port = models.DefaultPort
	}
	proto := beacon.Protocol
	if proto == "" {
		proto = "http"
	}
	device := &models.Device{
		Fingerprint: beacon.Fingerprint,
		Alias:       beacon.Alias,
		DeviceModel: beacon.DeviceModel,
		DeviceType:  beacon.DeviceType,
		IPAddress:   addr.IP.String(),
		Port:        port,
		Protocol:    proto,
		Version:     beacon.Version,
		LastSeen:    time.Now(),
		IsOnline:    true,
	}

	onPeerSeen(device)

	// let the beacon sender learn about us right away; its HTTP service
	// may not be up yet, so failures are swallowed
	go a.registerBack(device)
}

// registerBack POSTs this node's self-description to the beacon sender's
// register endpoint.
func (a *Announcer) registerBack(device *models.Device) {
	self := models.SelfDescription{
		Alias:       a.self.Alias,
		Version:     a.self.Version,
		DeviceModel: a.self.DeviceModel,
		DeviceType:  a.self.DeviceType,
		Fingerprint: a.self.Fingerprint,
		Port:        a.self.Port,
		Protocol:    a.self.Protocol,
	}
	body, err := json.Marshal(self)
	if err != nil {
		return
	}

	url := device.Address() + "/api/localsend/v2/register"
	resp, err := a.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Debug().
			Str("peer", device.Alias).
			Str("addr", net.JoinHostPort(device.IPAddress, strconv.Itoa(device.Port))).
			Msg("Register callback failed")
		return
	}
	resp.Body.Close()
}
