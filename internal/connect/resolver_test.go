package connect

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landrop-server/landrop-server/internal/models"
	"github.com/landrop-server/landrop-server/internal/registry"
)

func testSelf() models.SelfDescription {
	return models.SelfDescription{
		Alias:       "resolver-under-test",
		Version:     models.ProtocolVersion,
		Fingerprint: "aaaabbbbccccdddd",
		Port:        models.DefaultPort,
		Protocol:    "http",
	}
}

// peerServer fakes a register endpoint answering with the given identity
// and returns the resolver pointed at it.
func peerServer(t *testing.T, devices *registry.DeviceRegistry, answer models.SelfDescription) (*Resolver, string) {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/localsend/v2/register", r.URL.Path)

		// the probe must present our own identity
		var got models.SelfDescription
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "resolver-under-test", got.Alias)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(answer)
	}))
	t.Cleanup(ts.Close)

	host, portStr, err := net.SplitHostPort(ts.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	resolver := NewResolver(testSelf(), devices)
	resolver.port = port
	return resolver, host
}

func TestByIPFindsPeer(t *testing.T) {
	devices := registry.NewDeviceRegistry()
	resolver, host := peerServer(t, devices, models.SelfDescription{
		Alias:       "Other Laptop",
		Fingerprint: "1122334455667788",
		Port:        models.DefaultPort,
		Protocol:    "http",
	})

	device, err := resolver.ByIP(context.Background(), host)
	require.NoError(t, err)
	require.NotNil(t, device)
	assert.Equal(t, "Other Laptop", device.Alias)
	assert.Equal(t, host, device.IPAddress)
	assert.True(t, device.IsOnline)

	// the peer landed in the registry
	_, ok := devices.Get("1122334455667788")
	assert.True(t, ok)
}

func TestByIPIgnoresSelf(t *testing.T) {
	devices := registry.NewDeviceRegistry()
	resolver, host := peerServer(t, devices, testSelf())

	device, err := resolver.ByIP(context.Background(), host)
	require.NoError(t, err)
	assert.Nil(t, device)
	assert.Empty(t, devices.List())
}

func TestByIPNobodyHome(t *testing.T) {
	devices := registry.NewDeviceRegistry()
	resolver := NewResolver(testSelf(), devices)
	resolver.port = 1 // nothing listens there

	device, err := resolver.ByIP(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	assert.Nil(t, device)
}

func TestByKey(t *testing.T) {
	devices := registry.NewDeviceRegistry()
	devices.Upsert(&models.Device{
		Fingerprint: "a7f39b2e11223344",
		Alias:       "Phone",
	})
	resolver := NewResolver(testSelf(), devices)

	device := resolver.ByKey("a7f3 9b2e")
	require.NotNil(t, device)
	assert.Equal(t, "Phone", device.Alias)

	assert.Nil(t, resolver.ByKey("0000-0000"))
	assert.Nil(t, resolver.ByKey("garbage"))
}
