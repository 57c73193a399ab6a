// Package proxy terminates TLS in front of the plaintext transfer API.
// It relays raw bytes and never inspects the protocol, so HTTPS-only
// peers can reach the same handlers.
package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Proxy is a byte-transparent TLS relay onto a local plaintext listener.
type Proxy struct {
	listenPort int
	targetAddr string
	certs      CertProvider

	listener net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   bool
}

// New creates a proxy that accepts TLS on listenPort and forwards to the
// plaintext API on targetPort at loopback.
func New(listenPort, targetPort int, certs CertProvider) *Proxy {
	return &Proxy{
		listenPort: listenPort,
		targetAddr: net.JoinHostPort("127.0.0.1", strconv.Itoa(targetPort)),
		certs:      certs,
	}
}

// Start binds the TLS listener and begins accepting connections.
func (p *Proxy) Start() error {
	cert, err := p.certs.Certificate()
	if err != nil {
		return fmt.Errorf("load certificate: %w", err)
	}

	listener, err := tls.Listen("tcp", fmt.Sprintf(":%d", p.listenPort), &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
	if err != nil {
		return fmt.Errorf("bind TLS listener: %w", err)
	}
	p.listener = listener

	log.Info().Int("port", p.listenPort).Str("target", p.targetAddr).Msg("TLS proxy listening")

	p.wg.Add(1)
	go p.acceptLoop()
	return nil
}

// Shutdown stops accepting and waits for in-flight relays to finish or
// the context to expire.
func (p *Proxy) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	if p.listener != nil {
		p.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Proxy) acceptLoop() {
	defer p.wg.Done()

	for {
		conn, err := p.listener.Accept()
		if err != nil {
			p.mu.Lock()
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return
			}
			log.Warn().Err(err).Msg("TLS accept failed")
			continue
		}

		p.wg.Add(1)
		go p.relay(conn)
	}
}

// relay pipes bytes both ways until either side closes.
func (p *Proxy) relay(client net.Conn) {
	defer p.wg.Done()
	defer client.Close()

	target, err := net.DialTimeout("tcp", p.targetAddr, 5*time.Second)
	if err != nil {
		log.Warn().Err(err).Msg("TLS proxy cannot reach local API")
		return
	}
	defer target.Close()

	var once sync.Once
	teardown := func() {
		client.Close()
		target.Close()
	}

	var relayWG sync.WaitGroup
	relayWG.Add(2)
	go func() {
		defer relayWG.Done()
		io.Copy(target, client)
		once.Do(teardown)
	}()
	go func() {
		defer relayWG.Done()
		io.Copy(client, target)
		once.Do(teardown)
	}()
	relayWG.Wait()
}
