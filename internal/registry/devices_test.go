package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landrop-server/landrop-server/internal/models"
)

func TestDeviceUpsertAndGet(t *testing.T) {
	r := NewDeviceRegistry()

	r.Upsert(&models.Device{
		Fingerprint: "fp-1",
		Alias:       "Laptop",
		IPAddress:   "192.168.1.10",
		Port:        models.DefaultPort,
	})

	device, ok := r.Get("fp-1")
	require.True(t, ok)
	assert.Equal(t, "Laptop", device.Alias)
	assert.True(t, device.IsOnline)
	assert.False(t, device.LastSeen.IsZero())

	_, ok = r.Get("unknown")
	assert.False(t, ok)
}

func TestDeviceUpsertMergesWithoutClobbering(t *testing.T) {
	r := NewDeviceRegistry()

	r.Upsert(&models.Device{
		Fingerprint: "fp-1",
		Alias:       "Laptop",
		DeviceModel: "ThinkPad",
		IPAddress:   "192.168.1.10",
		Port:        models.DefaultPort,
	})

	// a beacon with fewer fields must not erase known values
	r.Upsert(&models.Device{
		Fingerprint: "fp-1",
		IPAddress:   "192.168.1.20",
	})

	device, ok := r.Get("fp-1")
	require.True(t, ok)
	assert.Equal(t, "Laptop", device.Alias)
	assert.Equal(t, "ThinkPad", device.DeviceModel)
	assert.Equal(t, "192.168.1.20", device.IPAddress)
	assert.Equal(t, models.DefaultPort, device.Port)
}

func TestDeviceUpsertIgnoresInvalid(t *testing.T) {
	r := NewDeviceRegistry()
	r.Upsert(nil)
	r.Upsert(&models.Device{Alias: "no fingerprint"})
	assert.Empty(t, r.List())
}

func TestDeviceListInsertionOrder(t *testing.T) {
	r := NewDeviceRegistry()
	r.Upsert(&models.Device{Fingerprint: "b", Alias: "second"})
	r.Upsert(&models.Device{Fingerprint: "a", Alias: "first"})
	r.Upsert(&models.Device{Fingerprint: "c", Alias: "third"})

	// re-seeing a peer must not change its position
	r.Upsert(&models.Device{Fingerprint: "b", Alias: "second again"})

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "b", list[0].Fingerprint)
	assert.Equal(t, "a", list[1].Fingerprint)
	assert.Equal(t, "c", list[2].Fingerprint)
}

func TestDeviceRemove(t *testing.T) {
	r := NewDeviceRegistry()
	r.Upsert(&models.Device{Fingerprint: "a"})
	r.Upsert(&models.Device{Fingerprint: "b"})

	r.Remove("a")
	_, ok := r.Get("a")
	assert.False(t, ok)
	require.Len(t, r.List(), 1)
	assert.Equal(t, "b", r.List()[0].Fingerprint)

	// unknown remove is a no-op
	r.Remove("a")
	assert.Len(t, r.List(), 1)
}

func TestDeviceSweepTimeouts(t *testing.T) {
	r := NewDeviceRegistry()
	r.Upsert(&models.Device{Fingerprint: "stale"})
	r.Upsert(&models.Device{Fingerprint: "fresh"})

	// age the first entry past the timeout
	r.mu.Lock()
	r.devices["stale"].LastSeen = time.Now().Add(-time.Minute)
	r.mu.Unlock()

	timedOut := r.SweepTimeouts(time.Now(), models.DeviceTimeout)
	require.Equal(t, []string{"stale"}, timedOut)

	device, _ := r.Get("stale")
	assert.False(t, device.IsOnline)
	device, _ = r.Get("fresh")
	assert.True(t, device.IsOnline)

	// already-offline peers do not report again
	assert.Empty(t, r.SweepTimeouts(time.Now(), models.DeviceTimeout))
}

func TestDeviceListReturnsCopies(t *testing.T) {
	r := NewDeviceRegistry()
	r.Upsert(&models.Device{Fingerprint: "a", Alias: "original"})

	r.List()[0].Alias = "mutated"

	device, _ := r.Get("a")
	assert.Equal(t, "original", device.Alias)
}
