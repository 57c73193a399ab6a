package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/landrop-server/landrop-server/internal/models"
	"github.com/landrop-server/landrop-server/pkg/crypto"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Discovery    DiscoveryConfig    `yaml:"discovery"`
	Transfer     TransferConfig     `yaml:"transfer"`
	Proxy        ProxyConfig        `yaml:"proxy"`
	Integrations IntegrationsConfig `yaml:"integrations"`
	History      HistoryConfig      `yaml:"history"`
	Log          LogConfig          `yaml:"log"`
}

// ServerConfig describes this node's identity and the transfer API listener
type ServerConfig struct {
	Alias       string `yaml:"alias"`
	DeviceModel string `yaml:"device_model"`
	DeviceType  string `yaml:"device_type"`
	Fingerprint string `yaml:"fingerprint"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Protocol    string `yaml:"protocol"`
	DownloadDir string `yaml:"download_dir"`
}

// DiscoveryConfig controls multicast announcement and peer liveness
type DiscoveryConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Transport        string        `yaml:"transport"` // multicast | httpscan
	MulticastGroup   string        `yaml:"multicast_group"`
	MulticastPort    int           `yaml:"multicast_port"`
	AnnounceInterval time.Duration `yaml:"announce_interval"`
	DeviceTimeout    time.Duration `yaml:"device_timeout"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	ScanRanges       []string      `yaml:"scan_ranges"` // httpscan only, /24 prefixes
}

// TransferConfig controls session acceptance and receipt behavior
type TransferConfig struct {
	AutoAccept       bool          `yaml:"auto_accept"`
	RequirePIN       bool          `yaml:"require_pin"`
	PIN              string        `yaml:"pin"`
	PINHash          string        `yaml:"pin_hash"`
	AcceptTimeout    time.Duration `yaml:"accept_timeout"`
	SessionRetention time.Duration `yaml:"session_retention"`
	VerifyChecksums  bool          `yaml:"verify_checksums"`
}

// ProxyConfig controls the TLS reverse proxy in front of the plaintext API
type ProxyConfig struct {
	Enabled bool   `yaml:"enabled"`
	CertDir string `yaml:"cert_dir"`
}

// IntegrationsConfig enables outbound transfer-event forwarding
type IntegrationsConfig struct {
	NATS    NATSConfig    `yaml:"nats"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// NATSConfig represents NATS forwarding configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	SubjectPrefix     string        `yaml:"subject_prefix"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// MQTTConfig represents MQTT forwarding configuration
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
}

// WebhookConfig represents HTTP webhook forwarding configuration
type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// HistoryConfig selects the transfer-history store
type HistoryConfig struct {
	Driver string `yaml:"driver"` // none | memory | postgres
	DSN    string `yaml:"dsn"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.setDefaults(); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration usable without a config file.
func Default() (*Config, error) {
	var cfg Config
	cfg.applyEnvOverrides()
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if alias := os.Getenv("LANDROP_ALIAS"); alias != "" {
		c.Server.Alias = alias
	}

	if port := os.Getenv("LANDROP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if dir := os.Getenv("LANDROP_DOWNLOAD_DIR"); dir != "" {
		c.Server.DownloadDir = dir
	}

	if pin := os.Getenv("LANDROP_PIN"); pin != "" {
		c.Transfer.PIN = pin
		c.Transfer.RequirePIN = true
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.History.DSN = dsn
		if c.History.Driver == "" {
			c.History.Driver = "postgres"
		}
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.Integrations.NATS.URL = natsURL
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
}

// setDefaults fills in every unset field with the protocol defaults
func (c *Config) setDefaults() error {
	if c.Server.Alias == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "landrop"
		}
		c.Server.Alias = host
	}
	if c.Server.DeviceType == "" {
		c.Server.DeviceType = "headless"
	}
	if c.Server.Port == 0 {
		c.Server.Port = models.DefaultPort
	}
	if c.Server.Protocol == "" {
		c.Server.Protocol = "http"
	}
	if c.Server.DownloadDir == "" {
		c.Server.DownloadDir = "downloads"
	}
	if c.Server.Fingerprint == "" {
		host, _ := os.Hostname()
		if host != "" {
			c.Server.Fingerprint = crypto.Fingerprint(host + c.Server.Alias)
		} else {
			fp, err := crypto.RandomFingerprint()
			if err != nil {
				return fmt.Errorf("generate fingerprint: %w", err)
			}
			c.Server.Fingerprint = fp
		}
	}

	if c.Discovery.Transport == "" {
		c.Discovery.Transport = "multicast"
		c.Discovery.Enabled = true
	}
	if c.Discovery.MulticastGroup == "" {
		c.Discovery.MulticastGroup = models.MulticastGroup
	}
	if c.Discovery.MulticastPort == 0 {
		c.Discovery.MulticastPort = models.DefaultPort
	}
	if c.Discovery.AnnounceInterval == 0 {
		c.Discovery.AnnounceInterval = models.AnnounceInterval
	}
	if c.Discovery.DeviceTimeout == 0 {
		c.Discovery.DeviceTimeout = models.DeviceTimeout
	}
	if c.Discovery.SweepInterval == 0 {
		c.Discovery.SweepInterval = 5 * time.Second
	}
	if len(c.Discovery.ScanRanges) == 0 {
		c.Discovery.ScanRanges = []string{"192.168.1", "192.168.0", "10.0.0", "172.16.0"}
	}

	if c.Transfer.AcceptTimeout == 0 {
		c.Transfer.AcceptTimeout = models.AcceptTimeout
	}
	if c.Transfer.SessionRetention == 0 {
		c.Transfer.SessionRetention = 10 * time.Minute
	}

	if c.Proxy.CertDir == "" {
		c.Proxy.CertDir = "certs"
	}

	if c.Integrations.NATS.SubjectPrefix == "" {
		c.Integrations.NATS.SubjectPrefix = "landrop.transfer"
	}
	if c.Integrations.NATS.MaxReconnects == 0 {
		c.Integrations.NATS.MaxReconnects = 10
	}
	if c.Integrations.NATS.ReconnectInterval == 0 {
		c.Integrations.NATS.ReconnectInterval = 2 * time.Second
	}
	if c.Integrations.MQTT.TopicPrefix == "" {
		c.Integrations.MQTT.TopicPrefix = "landrop/transfer"
	}
	if c.Integrations.MQTT.ClientID == "" {
		fp := c.Server.Fingerprint
		if len(fp) > 8 {
			fp = fp[:8]
		}
		c.Integrations.MQTT.ClientID = "landrop-" + fp
	}
	if c.Integrations.Webhook.Timeout == 0 {
		c.Integrations.Webhook.Timeout = 30 * time.Second
	}

	if c.History.Driver == "" {
		c.History.Driver = "none"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	return nil
}

// validate rejects configurations the server cannot run with
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// connection keys take the first 8 characters of the fingerprint
	if len(c.Server.Fingerprint) < 8 {
		return fmt.Errorf("fingerprint must be at least 8 characters: %q", c.Server.Fingerprint)
	}

	switch c.Discovery.Transport {
	case "multicast", "httpscan":
	default:
		return fmt.Errorf("invalid discovery transport: %s", c.Discovery.Transport)
	}

	if c.Transfer.RequirePIN && c.Transfer.PIN == "" && c.Transfer.PINHash == "" {
		return fmt.Errorf("require_pin is set but neither pin nor pin_hash is configured")
	}

	switch c.History.Driver {
	case "none", "memory":
	case "postgres":
		if c.History.DSN == "" {
			return fmt.Errorf("history driver postgres requires a dsn")
		}
	default:
		return fmt.Errorf("invalid history driver: %s", c.History.Driver)
	}

	return nil
}

// Self returns this node's protocol self-description.
func (c *Config) Self() models.SelfDescription {
	return models.SelfDescription{
		Alias:       c.Server.Alias,
		Version:     models.ProtocolVersion,
		DeviceModel: c.Server.DeviceModel,
		DeviceType:  c.Server.DeviceType,
		Fingerprint: c.Server.Fingerprint,
		Port:        c.Server.Port,
		Protocol:    c.Server.Protocol,
	}
}

// PrintConfigSummary prints the effective configuration to stdout
func (c *Config) PrintConfigSummary() {
	fmt.Printf("Server:    %s (%s) on :%d [%s]\n",
		c.Server.Alias, c.Server.Fingerprint, c.Server.Port, c.Server.Protocol)
	fmt.Printf("Downloads: %s\n", c.Server.DownloadDir)
	fmt.Printf("Discovery: transport=%s group=%s:%d announce=%s timeout=%s\n",
		c.Discovery.Transport, c.Discovery.MulticastGroup, c.Discovery.MulticastPort,
		c.Discovery.AnnounceInterval, c.Discovery.DeviceTimeout)
	fmt.Printf("Transfer:  auto_accept=%v require_pin=%v accept_timeout=%s retention=%s\n",
		c.Transfer.AutoAccept, c.Transfer.RequirePIN,
		c.Transfer.AcceptTimeout, c.Transfer.SessionRetention)
	fmt.Printf("Proxy:     enabled=%v\n", c.Proxy.Enabled)
	fmt.Printf("History:   driver=%s\n", c.History.Driver)
}
