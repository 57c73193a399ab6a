package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landrop-server/landrop-server/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.Server.Alias)
	assert.NotEmpty(t, cfg.Server.Fingerprint)
	assert.Equal(t, models.DefaultPort, cfg.Server.Port)
	assert.Equal(t, "http", cfg.Server.Protocol)
	assert.Equal(t, "multicast", cfg.Discovery.Transport)
	assert.Equal(t, models.MulticastGroup, cfg.Discovery.MulticastGroup)
	assert.Equal(t, models.AnnounceInterval, cfg.Discovery.AnnounceInterval)
	assert.Equal(t, models.DeviceTimeout, cfg.Discovery.DeviceTimeout)
	assert.Equal(t, models.AcceptTimeout, cfg.Transfer.AcceptTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Transfer.SessionRetention)
	assert.Equal(t, "none", cfg.History.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
server:
  alias: "Living Room PC"
  port: 53400
  download_dir: /srv/incoming
transfer:
  auto_accept: true
  accept_timeout: 30s
discovery:
  transport: httpscan
  scan_ranges: ["192.168.7"]
history:
  driver: memory
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Living Room PC", cfg.Server.Alias)
	assert.Equal(t, 53400, cfg.Server.Port)
	assert.Equal(t, "/srv/incoming", cfg.Server.DownloadDir)
	assert.True(t, cfg.Transfer.AutoAccept)
	assert.Equal(t, 30*time.Second, cfg.Transfer.AcceptTimeout)
	assert.Equal(t, "httpscan", cfg.Discovery.Transport)
	assert.Equal(t, []string{"192.168.7"}, cfg.Discovery.ScanRanges)
	assert.Equal(t, "memory", cfg.History.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)

	// unset fields still default
	assert.Equal(t, models.MulticastGroup, cfg.Discovery.MulticastGroup)
	assert.NotEmpty(t, cfg.Server.Fingerprint)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/no/such/file.yml")
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LANDROP_ALIAS", "env-alias")
	t.Setenv("LANDROP_PORT", "54000")
	t.Setenv("LANDROP_PIN", "987654")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "env-alias", cfg.Server.Alias)
	assert.Equal(t, 54000, cfg.Server.Port)
	assert.Equal(t, "987654", cfg.Transfer.PIN)
	assert.True(t, cfg.Transfer.RequirePIN)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad port", "server:\n  port: 70000\n"},
		{"short fingerprint", "server:\n  fingerprint: abc\n"},
		{"bad transport", "discovery:\n  transport: carrier-pigeon\n"},
		{"pin required but unset", "transfer:\n  require_pin: true\n"},
		{"postgres without dsn", "history:\n  driver: postgres\n"},
		{"unknown history driver", "history:\n  driver: redis\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestMQTTClientIDDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	assert.Equal(t, "landrop-"+cfg.Server.Fingerprint[:8], cfg.Integrations.MQTT.ClientID)
}

func TestSelfDescription(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	self := cfg.Self()
	assert.Equal(t, cfg.Server.Alias, self.Alias)
	assert.Equal(t, cfg.Server.Fingerprint, self.Fingerprint)
	assert.Equal(t, models.ProtocolVersion, self.Version)
	assert.Equal(t, cfg.Server.Port, self.Port)
}
