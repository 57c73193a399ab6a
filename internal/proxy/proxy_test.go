package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeTCPPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func TestSelfSignedProviderPersists(t *testing.T) {
	dir := t.TempDir()
	p := &SelfSignedProvider{Dir: dir, Alias: "test-node"}

	first, err := p.Certificate()
	require.NoError(t, err)
	require.NotEmpty(t, first.Certificate)

	// a second load must reuse the persisted pair, not regenerate
	second, err := p.Certificate()
	require.NoError(t, err)
	assert.Equal(t, first.Certificate[0], second.Certificate[0])
}

func TestProxyRelaysHTTP(t *testing.T) {
	// plaintext backend the proxy forwards to
	backendPort := freeTCPPort(t)
	backend := &http.Server{
		Addr: fmt.Sprintf("127.0.0.1:%d", backendPort),
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("through the relay"))
		}),
	}
	go backend.ListenAndServe()
	defer backend.Close()

	proxyPort := freeTCPPort(t)
	p := New(proxyPort, backendPort, &SelfSignedProvider{Dir: t.TempDir(), Alias: "relay"})
	require.NoError(t, p.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Shutdown(ctx)
	}()

	client := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			// the relay presents a self-signed cert
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	var resp *http.Response
	var err error
	for i := 0; i < 20; i++ {
		resp, err = client.Get(fmt.Sprintf("https://127.0.0.1:%d/", proxyPort))
		if err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "through the relay", string(body))
}
