// Package config handles configuration loading, validation, and persistence
// for battlewire nodes.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir     = "config"
	DefaultConfigFile    = "config.json"
	DefaultListenAddress = ":7450"
	DefaultServerAddress = "127.0.0.1:7450"
	DefaultDiscovery     = ":7451"
	DefaultAPIPort       = 7452
	DefaultWebsocketPath = "/ws"
)

// Roles accepted in network.role.
const (
	RoleStandalone = "standalone"
	RoleServer     = "server"
	RoleClient     = "client"
)

// Config is the root configuration structure for a battlewire node.
type Config struct {
	mu   sync.RWMutex
	path string

	Network   NetworkConfig   `json:"network"`
	API       APIConfig       `json:"api"`
	Battle    BattleConfig    `json:"battle"`
	Journal   JournalConfig   `json:"journal"`
	MQTT      MQTTConfig      `json:"mqtt"`
	Discovery DiscoveryConfig `json:"discovery"`
	Health    HealthConfig    `json:"health"`
	Logging   LoggingConfig   `json:"logging"`
}

// NetworkConfig selects the node's role and how it reaches its peers.
type NetworkConfig struct {
	Role          string `json:"role"`
	Name          string `json:"name"`
	ListenAddress string `json:"listen_address"`
	WebsocketPath string `json:"websocket_path"`
	ServerAddress string `json:"server_address"`

	MaxPeers      int `json:"max_peers"`
	SendQueue     int `json:"send_queue"`
	MaxConnPerSec int `json:"max_conn_per_sec"`
	MaxConns      int `json:"max_conns"`

	DialTimeoutSec       int `json:"dial_timeout_sec"`
	HandshakeTimeoutSec  int `json:"handshake_timeout_sec"`
	IdleTimeoutSec       int `json:"idle_timeout_sec"`
	HeartbeatIntervalSec int `json:"heartbeat_interval_sec"`
}

// DialTimeout returns the client dial timeout.
func (n NetworkConfig) DialTimeout() time.Duration { return seconds(n.DialTimeoutSec) }

// HandshakeTimeout returns how long a handshake may take.
func (n NetworkConfig) HandshakeTimeout() time.Duration { return seconds(n.HandshakeTimeoutSec) }

// IdleTimeout returns how long a connection may stay silent.
func (n NetworkConfig) IdleTimeout() time.Duration { return seconds(n.IdleTimeoutSec) }

// HeartbeatInterval returns the heartbeat period.
func (n NetworkConfig) HeartbeatInterval() time.Duration { return seconds(n.HeartbeatIntervalSec) }

// APIConfig holds the inspection REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`

	// TLS serves the API over HTTPS. A self-signed pair is generated when
	// the files do not exist.
	TLS      bool   `json:"tls"`
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
}

// BattleConfig holds the arena and the server's NPC roster.
type BattleConfig struct {
	DefaultFormat string          `json:"default_format"`
	History       int             `json:"history"`
	AutoAccept    bool            `json:"auto_accept"`
	Trainers      []TrainerConfig `json:"trainers"`
}

// TrainerConfig describes one server-owned NPC.
type TrainerConfig struct {
	ID   uint32 `json:"id"`
	Name string `json:"name"`
	Move string `json:"move"`
}

// JournalConfig holds the routing journal settings.
type JournalConfig struct {
	Enabled       bool   `json:"enabled"`
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
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

// DiscoveryConfig holds the LAN discovery responder settings.
type DiscoveryConfig struct {
	Enabled   bool   `json:"enabled"`
	Address   string `json:"address"`
	MaxPerSec int    `json:"max_per_sec"`
}

// HealthConfig holds the periodic health check thresholds.
type HealthConfig struct {
	IntervalSec     int     `json:"interval_sec"`
	SlowLoopMs      int     `json:"slow_loop_ms"`
	DiskWarnPercent float64 `json:"disk_warn_percent"`
	PeerWarnPercent float64 `json:"peer_warn_percent"`
}

// Interval returns the health check period.
func (h HealthConfig) Interval() time.Duration { return seconds(h.IntervalSec) }

// SlowLoop returns the router loop latency above which the node is
// reported degraded.
func (h HealthConfig) SlowLoop() time.Duration { return time.Duration(h.SlowLoopMs) * time.Millisecond }

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level         string `json:"level"`
	Directory     string `json:"directory"`
	MaxBackups    int    `json:"max_backups"`
	TraceMessages bool   `json:"trace_messages"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			Role:                 RoleStandalone,
			Name:                 "battlewire",
			ListenAddress:        DefaultListenAddress,
			WebsocketPath:        DefaultWebsocketPath,
			ServerAddress:        DefaultServerAddress,
			MaxPeers:             64,
			SendQueue:            64,
			MaxConnPerSec:        10,
			MaxConns:             256,
			DialTimeoutSec:       10,
			HandshakeTimeoutSec:  10,
			IdleTimeoutSec:       60,
			HeartbeatIntervalSec: 15,
		},
		API: APIConfig{
			Enabled:      true,
			Port:         DefaultAPIPort,
			RateLimitRPS: 100,
			CertFile:     filepath.Join("data", "api-cert.pem"),
			KeyFile:      filepath.Join("data", "api-key.pem"),
		},
		Battle: BattleConfig{
			DefaultFormat: "singles",
			History:       32,
			Trainers: []TrainerConfig{
				{ID: 1, Name: "Brock", Move: "attack"},
				{ID: 2, Name: "Misty", Move: "guard"},
			},
		},
		Journal: JournalConfig{
			Enabled:       true,
			Path:          filepath.Join("data", "journal.db"),
			RetentionDays: 7,
		},
		MQTT: MQTTConfig{
			Port:        1883,
			TopicPrefix: "battlewire",
		},
		Discovery: DiscoveryConfig{
			Enabled:   true,
			Address:   DefaultDiscovery,
			MaxPerSec: 5,
		},
		Health: HealthConfig{
			IntervalSec:     30,
			SlowLoopMs:      250,
			DiskWarnPercent: 90,
			PeerWarnPercent: 90,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
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
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so fields added since the file was written show up in it.
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

// GetNetwork returns a copy of the network configuration.
func (c *Config) GetNetwork() NetworkConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Network
}

// SetNetwork updates the network configuration.
func (c *Config) SetNetwork(n NetworkConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Network = n
}

// GetBattle returns a copy of the battle configuration.
func (c *Config) GetBattle() BattleConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b := c.Battle
	b.Trainers = append([]TrainerConfig(nil), c.Battle.Trainers...)
	return b
}

// Redacted returns a copy safe to expose over the API: TLS material paths
// are cleared.
func (c *Config) Redacted() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := &Config{
		Network:   c.Network,
		API:       c.API,
		Battle:    c.Battle,
		Journal:   c.Journal,
		MQTT:      c.MQTT,
		Discovery: c.Discovery,
		Health:    c.Health,
		Logging:   c.Logging,
	}
	out.API.CertFile = ""
	out.API.KeyFile = ""
	out.MQTT.CertFile = ""
	out.MQTT.KeyFile = ""
	out.MQTT.CAFile = ""
	return out
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
