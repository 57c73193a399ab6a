package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/landrop-server/landrop-server/internal/models"
)

// ProbeFunc checks a single address for a peer by calling its register
// endpoint. nil device means nothing answered.
type ProbeFunc func(ctx context.Context, ip string) (*models.Device, error)

// HTTPScanner is the discovery fallback for hosts without multicast
// capability: it probes /24 ranges with register POSTs. Slower and
// noisier than multicast, but it works anywhere plain HTTP does.
type HTTPScanner struct {
	probe    ProbeFunc
	ranges   []string
	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

const scanConcurrency = 20

// NewHTTPScanner creates a scanner over the given /24 prefixes
func NewHTTPScanner(probe ProbeFunc, ranges []string, rescanInterval time.Duration) *HTTPScanner {
	if rescanInterval <= 0 {
		rescanInterval = time.Minute
	}
	return &HTTPScanner{
		probe:    probe,
		ranges:   ranges,
		interval: rescanInterval,
	}
}

// Start implements Transport. The first scan begins immediately;
// subsequent scans run on the rescan interval.
func (s *HTTPScanner) Start(onPeerSeen func(*models.Device)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		log.Info().Strs("ranges", s.ranges).Msg("HTTP scan discovery started")
		s.scan(ctx, onPeerSeen)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.scan(ctx, onPeerSeen)
			}
		}
	}()

	return nil
}

// Stop implements Transport. Idempotent and safe when never started.
func (s *HTTPScanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	log.Info().Msg("HTTP scan discovery stopped")
}

// scan probes every host in every range with bounded concurrency.
func (s *HTTPScanner) scan(ctx context.Context, onPeerSeen func(*models.Device)) {
	sem := make(chan struct{}, scanConcurrency)
	var wg sync.WaitGroup
	found := 0
	var mu sync.Mutex

	for _, prefix := range s.ranges {
		for i := 1; i <= 254; i++ {
			if ctx.Err() != nil {
				break
			}
			ip := fmt.Sprintf("%s.%d", prefix, i)

			sem <- struct{}{}
			wg.Add(1)
			go func(ip string) {
				defer wg.Done()
				defer func() { <-sem }()

				device, err := s.probe(ctx, ip)
				if err != nil || device == nil {
					return
				}
				mu.Lock()
				found++
				mu.Unlock()
				onPeerSeen(device)
			}(ip)
		}
	}

	wg.Wait()
	log.Debug().Int("found", found).Msg("HTTP scan pass complete")
}
