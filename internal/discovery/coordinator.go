package discovery

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/landrop-server/landrop-server/internal/events"
	"github.com/landrop-server/landrop-server/internal/models"
	"github.com/landrop-server/landrop-server/internal/registry"
)

// Transport is a peer discovery mechanism. The multicast announcer is the
// primary implementation; the HTTP scanner covers hosts without multicast
// capability.
type Transport interface {
	Start(onPeerSeen func(*models.Device)) error
	Stop()
}

// Coordinator orchestrates a discovery transport and the liveness sweep
// that demotes silent peers to offline.
type Coordinator struct {
	transport     Transport
	devices       *registry.DeviceRegistry
	sink          events.Sink
	sweepInterval time.Duration
	deviceTimeout time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewCoordinator creates a discovery coordinator
func NewCoordinator(transport Transport, devices *registry.DeviceRegistry, sink events.Sink, sweepInterval, deviceTimeout time.Duration) *Coordinator {
	return &Coordinator{
		transport:     transport,
		devices:       devices,
		sink:          sink,
		sweepInterval: sweepInterval,
		deviceTimeout: deviceTimeout,
	}
}

// Start launches the transport and the timeout sweep. Idempotent; a
// transport start failure propagates and leaves the coordinator stopped.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	if err := c.transport.Start(c.onPeerSeen); err != nil {
		return err
	}

	c.stop = make(chan struct{})
	c.running = true
	c.wg.Add(1)
	go c.sweepLoop()

	log.Info().
		Dur("sweep_interval", c.sweepInterval).
		Dur("device_timeout", c.deviceTimeout).
		Msg("Discovery coordinator started")
	return nil
}

// Stop cancels the sweep and the transport together. Idempotent.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	c.mu.Unlock()

	c.transport.Stop()
	c.wg.Wait()
}

// onPeerSeen is the single funnel from transports into the registry.
func (c *Coordinator) onPeerSeen(device *models.Device) {
	c.devices.Upsert(device)
	c.sink.Publish(events.Event{
		Type:   events.TypePeerSeen,
		Device: device,
	})
}

// sweepLoop runs the periodic timeout sweep while discovery is active.
func (c *Coordinator) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			for _, fp := range c.devices.SweepTimeouts(now, c.deviceTimeout) {
				if device, ok := c.devices.Get(fp); ok {
					c.sink.Publish(events.Event{
						Type:   events.TypePeerOffline,
						Device: device,
					})
				}
			}
		}
	}
}
