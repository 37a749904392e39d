package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/critterbox/battlewire/internal/battle"
	"github.com/critterbox/battlewire/internal/participant"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	result := &ValidationResult{}

	validateNetwork(&cfg.Network, result)
	validateBattle(&cfg.Battle, result)

	if cfg.API.Enabled {
		validatePort(cfg.API.Port, "api.port", result)
		if cfg.API.RateLimitRPS < 1 {
			result.AddWarning("api.rate_limit_rps",
				"rate limit is disabled (0 RPS), this may expose the API to abuse")
		}
		if cfg.API.TLS && (strings.TrimSpace(cfg.API.CertFile) == "" || strings.TrimSpace(cfg.API.KeyFile) == "") {
			result.AddError("api.cert_file", "certificate and key paths are required when TLS is enabled")
		}
	}

	if cfg.Health.IntervalSec < 0 {
		result.AddError("health.interval_sec", "must not be negative")
	}
	for field, pct := range map[string]float64{
		"health.disk_warn_percent": cfg.Health.DiskWarnPercent,
		"health.peer_warn_percent": cfg.Health.PeerWarnPercent,
	} {
		if pct < 0 || pct > 100 {
			result.AddError(field, "must be between 0 and 100")
		}
	}

	if cfg.Journal.Enabled && strings.TrimSpace(cfg.Journal.Path) == "" {
		result.AddError("journal.path", "journal path is required when enabled")
	}

	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
	}

	if role, _ := battle.ParseRole(cfg.Network.Role); cfg.Discovery.Enabled && role == battle.AuthoritativeServer {
		validateAddress(cfg.Discovery.Address, "discovery.address", result)
	}

	return result
}

func validateNetwork(n *NetworkConfig, result *ValidationResult) {
	role, err := battle.ParseRole(n.Role)
	if err != nil {
		result.AddError("network.role",
			fmt.Sprintf("unknown role %q (want %s, %s or %s)", n.Role, RoleStandalone, RoleServer, RoleClient))
		return
	}

	switch role {
	case battle.AuthoritativeServer:
		validateAddress(n.ListenAddress, "network.listen_address", result)
		if n.MaxPeers < 1 || n.MaxPeers > 255 {
			result.AddError("network.max_peers", "must be between 1 and 255")
		}
		if n.WebsocketPath != "" && !strings.HasPrefix(n.WebsocketPath, "/") {
			result.AddError("network.websocket_path", "must start with /")
		}
	case battle.ConnectedClient:
		if strings.TrimSpace(n.ServerAddress) == "" {
			result.AddError("network.server_address", "server address is required for clients")
		}
	}

	if n.IdleTimeoutSec > 0 && n.HeartbeatIntervalSec >= n.IdleTimeoutSec {
		result.AddWarning("network.heartbeat_interval_sec",
			"heartbeat interval should be shorter than the idle timeout")
	}
}

func validateBattle(b *BattleConfig, result *ValidationResult) {
	if b.History < 0 {
		result.AddError("battle.history", "must not be negative")
	}

	seen := make(map[uint32]bool, len(b.Trainers))
	for i, t := range b.Trainers {
		field := fmt.Sprintf("battle.trainers[%d]", i)
		id := battle.ProviderID(t.ID)
		switch {
		case id.IsManager():
			result.AddError(field+".id", "id 0 is reserved for the manager")
		case participant.IsPlayerID(id):
			result.AddError(field+".id",
				fmt.Sprintf("ids from %d are reserved for players", participant.PlayerIDBase))
		case seen[t.ID]:
			result.AddError(field+".id", fmt.Sprintf("duplicate trainer id %d", t.ID))
		}
		seen[t.ID] = true

		if _, err := battle.ParseAction(t.Move); err != nil {
			result.AddError(field+".move", err.Error())
		}
	}
}

func validateAddress(addr, field string, result *ValidationResult) {
	if strings.TrimSpace(addr) == "" {
		result.AddError(field, "address is required")
		return
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		result.AddError(field, fmt.Sprintf("invalid address %q: %v", addr, err))
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
