// Package config handles configuration loading, validation, and persistence
// for the fragline server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/fragline/internal/download"
	"github.com/energizer-project/fragline/internal/network"
	"github.com/energizer-project/fragline/internal/protocol"
	"github.com/energizer-project/fragline/internal/session"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultAPIPort    = 5080
	DefaultGamePort   = 27910
)

// Config is the root configuration structure for fragline.
type Config struct {
	mu      sync.RWMutex
	path    string
	created bool

	ServerData      ServerData      `json:"server_data"`
	ApplicationData ApplicationData `json:"application_data"`
}

// ServerData contains the game server settings.
type ServerData struct {
	// Identity
	Hostname string `json:"hostname"`
	Gamedir  string `json:"gamedir"`
	MapName  string `json:"map"`

	// Network
	BindAddress  string `json:"bind_address"`
	Port         int    `json:"port"`
	MaxClients   int    `json:"max_clients"`
	MaxPacketLen int    `json:"max_packet_len"`
	FrameRate    int    `json:"frame_rate"`

	// Sessions. ClientTimeout drops a silent peer, ZombieTimeout holds a
	// dropped slot before it is freed.
	ClientTimeout    int  `json:"client_timeout_sec"`
	ZombieTimeout    int  `json:"zombie_timeout_sec"`
	Deflate          bool `json:"deflate"`
	CompressionLevel int  `json:"compression_level"`
	EnforceTime      bool `json:"enforce_time"`

	// Reconnect challenge, empty disables it
	ForceReconnect string `json:"force_reconnect"`
	Anticheat      bool   `json:"anticheat"`

	Movement MovementData `json:"movement"`

	// Console commands stuffed on connect and on begin
	ConnectStuff []string `json:"connect_stuff"`
	BeginStuff   []string `json:"begin_stuff"`

	FilterFile     string          `json:"filter_file"`
	AssetDirectory string          `json:"asset_directory"`
	Downloads      download.Policy `json:"downloads"`
}

// MovementData are the movement parameters announced in serverdata.
type MovementData struct {
	StrafeHack bool `json:"strafe_hack"`
	QWMode     bool `json:"qw_mode"`
	WaterHack  bool `json:"water_hack"`
}

// ApplicationData contains service level configuration.
type ApplicationData struct {
	API      APIConfig      `json:"api"`
	Timers   TimerConfig    `json:"timers"`
	Database DatabaseConfig `json:"database"`
	Metrics  MetricsConfig  `json:"metrics"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

// APIConfig holds the admin API listener settings.
type APIConfig struct {
	Enabled     bool   `json:"enabled"`
	BindAddress string `json:"bind_address"`
	Port        int    `json:"port"`
	Token       string `json:"token"`
}

// TimerConfig holds scheduler intervals.
type TimerConfig struct {
	StatsInterval    int    `json:"stats_interval_sec"`
	LagCheckInterval int    `json:"lag_check_interval_sec"`
	HealthInterval   int    `json:"health_check_interval_sec"`
	AuditPurgeTime   string `json:"audit_purge_time"`
}

// DatabaseConfig holds the audit store settings.
type DatabaseConfig struct {
	Path               string `json:"path"`
	AuditRetentionDays int    `json:"audit_retention_days"`
}

// MetricsConfig holds prometheus settings.
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
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

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	AuthDisabled   bool     `json:"auth_disabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level"`
	Directory string `json:"directory"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ServerData: ServerData{
			Hostname:         "fragline",
			Gamedir:          "baseq2",
			MapName:          "q2dm1",
			Port:             DefaultGamePort,
			MaxClients:       16,
			MaxPacketLen:     protocol.MaxPacketLen,
			FrameRate:        session.DefaultFrameRate,
			ClientTimeout:    90,
			ZombieTimeout:    2,
			Deflate:          true,
			CompressionLevel: 9,
			Movement: MovementData{
				StrafeHack: true,
			},
			FilterFile:     "config/filters.toml",
			AssetDirectory: "baseq2",
			Downloads:      download.DefaultPolicy(),
		},
		ApplicationData: ApplicationData{
			API: APIConfig{
				Enabled: true,
				Port:    DefaultAPIPort,
			},
			Timers: TimerConfig{
				StatsInterval:    60,
				LagCheckInterval: 30,
				HealthInterval:   60,
				AuditPurgeTime:   "04:00",
			},
			Database: DatabaseConfig{
				Path:               "data/fragline.db",
				AuditRetentionDays: 14,
			},
			Metrics: MetricsConfig{
				Enabled: true,
			},
			MQTT: MQTTConfig{
				Enabled:     false,
				BrokerURL:   "localhost",
				Port:        1883,
				TopicPrefix: "fragline",
			},
			Security: SecurityConfig{
				RateLimitRPS: 50,
				AuthDisabled: true,
			},
			Logging: LoggingConfig{
				Level:     "info",
				Directory: "logs",
			},
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			cfg.created = true
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

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServerData returns a copy of the server configuration.
func (c *Config) GetServerData() ServerData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerData
}

// SetServerData updates the server configuration.
func (c *Config) SetServerData(data ServerData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ServerData = data
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

// UpdateServerField updates a single server_data field by its JSON key.
func (c *Config) UpdateServerField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return updateField(&c.ServerData, key, value)
}

// UpdateAppField updates a single application_data field by its JSON key.
func (c *Config) UpdateAppField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return updateField(&c.ApplicationData, key, value)
}

func updateField(section interface{}, key string, value interface{}) error {
	data, err := json.Marshal(section)
	if err != nil {
		return fmt.Errorf("failed to marshal section: %w", err)
	}
	m := make(map[string]interface{})
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to decode section: %w", err)
	}
	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown field %s", key)
	}

	m[key] = value

	updated, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	if err := json.Unmarshal(updated, section); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun returns true if Load had to create the configuration file.
func (c *Config) IsFirstRun() bool {
	return c.created
}

// UDPConfig converts the server section into listener settings.
func (c *Config) UDPConfig() network.UDPConfig {
	sd := c.GetServerData()
	return network.UDPConfig{
		Bind:         sd.BindAddress,
		Port:         sd.Port,
		MaxPacketLen: sd.MaxPacketLen,
		IdleTimeout:  time.Duration(sd.ClientTimeout) * time.Second,
	}
}

// SessionOptions converts the server section into session layer options.
func (c *Config) SessionOptions() session.Options {
	sd := c.GetServerData()
	return session.Options{
		Hostname:         sd.Hostname,
		MapName:          sd.MapName,
		Gamedir:          sd.Gamedir,
		MaxClients:       sd.MaxClients,
		FrameRate:        sd.FrameRate,
		ZombieTimeout:    time.Duration(sd.ZombieTimeout) * time.Second,
		Deflate:          sd.Deflate,
		CompressionLevel: sd.CompressionLevel,
		EnforceTime:      sd.EnforceTime,
		ForceReconnect:   sd.ForceReconnect,
		Anticheat:        sd.Anticheat,
		Movement: session.MovementParams{
			StrafeHack: sd.Movement.StrafeHack,
			QWMode:     sd.Movement.QWMode,
			WaterHack:  sd.Movement.WaterHack,
		},
		ConnectStuff: append([]string(nil), sd.ConnectStuff...),
		BeginStuff:   append([]string(nil), sd.BeginStuff...),
		Downloads:    sd.Downloads,
	}
}
