package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// overrides lists the settings that can be changed from the environment.
// Unset variables leave the loaded value in place.
type overrides struct {
	Role          string `env:"BATTLEWIRE_ROLE"`
	Name          string `env:"BATTLEWIRE_NAME"`
	ListenAddress string `env:"BATTLEWIRE_LISTEN_ADDR"`
	ServerAddress string `env:"BATTLEWIRE_SERVER_ADDR"`
	WebsocketPath string `env:"BATTLEWIRE_WS_PATH"`
	MaxPeers      int    `env:"BATTLEWIRE_MAX_PEERS"`

	APIEnabled bool     `env:"BATTLEWIRE_API_ENABLED"`
	APIPort    int      `env:"BATTLEWIRE_API_PORT"`
	APIOrigins []string `env:"BATTLEWIRE_API_ORIGINS" envSeparator:","`

	JournalEnabled bool   `env:"BATTLEWIRE_JOURNAL_ENABLED"`
	JournalPath    string `env:"BATTLEWIRE_JOURNAL_PATH"`

	MQTTEnabled  bool   `env:"BATTLEWIRE_MQTT_ENABLED"`
	MQTTBroker   string `env:"BATTLEWIRE_MQTT_BROKER"`
	MQTTPort     int    `env:"BATTLEWIRE_MQTT_PORT"`
	MQTTClientID string `env:"BATTLEWIRE_MQTT_CLIENT_ID"`

	DiscoveryEnabled bool `env:"BATTLEWIRE_DISCOVERY_ENABLED"`

	LogLevel      string `env:"BATTLEWIRE_LOG_LEVEL"`
	TraceMessages bool   `env:"BATTLEWIRE_TRACE_MESSAGES"`
}

// ApplyEnv overlays BATTLEWIRE_* environment variables onto the config.
func (c *Config) ApplyEnv() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	o := overrides{
		Role:             c.Network.Role,
		Name:             c.Network.Name,
		ListenAddress:    c.Network.ListenAddress,
		ServerAddress:    c.Network.ServerAddress,
		WebsocketPath:    c.Network.WebsocketPath,
		MaxPeers:         c.Network.MaxPeers,
		APIEnabled:       c.API.Enabled,
		APIPort:          c.API.Port,
		APIOrigins:       c.API.AllowedOrigins,
		JournalEnabled:   c.Journal.Enabled,
		JournalPath:      c.Journal.Path,
		MQTTEnabled:      c.MQTT.Enabled,
		MQTTBroker:       c.MQTT.BrokerURL,
		MQTTPort:         c.MQTT.Port,
		MQTTClientID:     c.MQTT.ClientID,
		DiscoveryEnabled: c.Discovery.Enabled,
		LogLevel:         c.Logging.Level,
		TraceMessages:    c.Logging.TraceMessages,
	}
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	c.Network.Role = o.Role
	c.Network.Name = o.Name
	c.Network.ListenAddress = o.ListenAddress
	c.Network.ServerAddress = o.ServerAddress
	c.Network.WebsocketPath = o.WebsocketPath
	c.Network.MaxPeers = o.MaxPeers
	c.API.Enabled = o.APIEnabled
	c.API.Port = o.APIPort
	c.API.AllowedOrigins = o.APIOrigins
	c.Journal.Enabled = o.JournalEnabled
	c.Journal.Path = o.JournalPath
	c.MQTT.Enabled = o.MQTTEnabled
	c.MQTT.BrokerURL = o.MQTTBroker
	c.MQTT.Port = o.MQTTPort
	c.MQTT.ClientID = o.MQTTClientID
	c.Discovery.Enabled = o.DiscoveryEnabled
	c.Logging.Level = o.LogLevel
	c.Logging.TraceMessages = o.TraceMessages
	return nil
}
