// Package config handles configuration loading, validation, and persistence
// for the zily daemon.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zily-project/zily/internal/protocol"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultAPIPort    = 5080
	DefaultZilyPort   = 7420
	DefaultProtocol   = "zily"
	DefaultPipeName   = "zily"
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Side            SideConfig      `json:"side"`
	Transport       TransportConfig `json:"transport"`
	ApplicationData ApplicationData `json:"application_data"`
}

// SideConfig is the identity this process announces to peers.
type SideConfig struct {
	Protocol string `json:"protocol"`
	Name     string `json:"name"`
}

// TransportConfig selects how sessions are carried.
type TransportConfig struct {
	// Kind is one of tcp, unix or pipe.
	Kind     string `json:"kind"`
	Address  string `json:"address"`
	PipeName string `json:"pipe_name"`

	// Plaintext skips the AES negotiation.
	Plaintext bool `json:"plaintext"`

	HandshakeTimeout int `json:"handshake_timeout_sec"`
	IdleTimeout      int `json:"idle_timeout_sec"`
}

// ApplicationData contains daemon settings around the sessions.
type ApplicationData struct {
	API      APIConfig      `json:"api"`
	Journal  JournalConfig  `json:"journal"`
	Timers   TimerConfig    `json:"timers"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

// APIConfig holds the admin REST API settings.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// JournalConfig holds the sqlite session journal settings.
type JournalConfig struct {
	Enabled       bool   `json:"enabled"`
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
	// RecordText stores console text; otherwise only flags are journaled.
	RecordText bool `json:"record_text"`
}

// TimerConfig holds background task intervals.
type TimerConfig struct {
	StaleCheckInterval   int `json:"stale_check_interval_sec"`
	JournalPruneInterval int `json:"journal_prune_interval_sec"`
	HeartbeatInterval    int `json:"heartbeat_interval_sec"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// SecurityConfig holds API security settings.
type SecurityConfig struct {
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	APIToken       string   `json:"api_token"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level"`
	Directory string `json:"directory"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "zily"
	}

	return &Config{
		Side: SideConfig{
			Protocol: DefaultProtocol,
			Name:     hostname,
		},
		Transport: TransportConfig{
			Kind:             "tcp",
			Address:          fmt.Sprintf("127.0.0.1:%d", DefaultZilyPort),
			PipeName:         DefaultPipeName,
			HandshakeTimeout: 30,
			IdleTimeout:      3600,
		},
		ApplicationData: ApplicationData{
			API: APIConfig{
				Enabled: true,
				Host:    "127.0.0.1",
				Port:    DefaultAPIPort,
			},
			Journal: JournalConfig{
				Enabled:       true,
				Path:          filepath.Join(DefaultConfigDir, "journal.db"),
				RetentionDays: 7,
				RecordText:    true,
			},
			Timers: TimerConfig{
				StaleCheckInterval:   60,
				JournalPruneInterval: 3600,
				HeartbeatInterval:    60,
			},
			MQTT: MQTTConfig{
				Enabled:     false,
				Port:        1883,
				TopicPrefix: "zily",
			},
			Security: SecurityConfig{
				RateLimitRPS: 100,
			},
			Logging: LoggingConfig{
				Level:     "info",
				Directory: "logs",
			},
		},
	}
}

// Load reads configuration from a JSON file, creating it with defaults when
// missing.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Persist fields added since the file was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetSide returns a copy of the identity configuration.
func (c *Config) GetSide() SideConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Side
}

// GetTransport returns a copy of the transport configuration.
func (c *Config) GetTransport() TransportConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Transport
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application data configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// UpdateAppField updates a single top-level field of the application data,
// addressed by its JSON name.
func (c *Config) UpdateAppField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(c.ApplicationData)
	if err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	m := make(map[string]interface{})
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown application field %q", key)
	}

	m[key] = value

	updated, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	next := c.ApplicationData
	if err := json.Unmarshal(updated, &next); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	c.ApplicationData = next
	return nil
}

// LocalSide builds the identity announced to peers.
func (c *Config) LocalSide() (protocol.Side, error) {
	side := c.GetSide()
	return protocol.NewSide(side.Protocol, protocol.APIVersion, side.Name)
}

// Endpoint returns the transport kind and the address to dial or bind.
func (c *Config) Endpoint() (kind, address string) {
	t := c.GetTransport()
	if t.Kind == "pipe" {
		return t.Kind, t.PipeName
	}
	return t.Kind, t.Address
}

// HandshakeTimeoutDuration returns the handshake bound as a duration.
func (t TransportConfig) HandshakeTimeoutDuration() time.Duration {
	return time.Duration(t.HandshakeTimeout) * time.Second
}

// IdleTimeoutDuration returns the idle bound as a duration.
func (t TransportConfig) IdleTimeoutDuration() time.Duration {
	return time.Duration(t.IdleTimeout) * time.Second
}

// Address returns the host:port the admin API binds to.
func (a APIConfig) Address() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// SetPath sets where Save writes the configuration.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}
