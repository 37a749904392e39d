// Package battle routes battle messages between battle providers and the
// battle manager, in standalone, authoritative server and connected
// client roles.
package battle

import (
	"fmt"
	"strings"
)

// ProviderID identifies a battle provider. The zero value addresses the
// battle manager.
type ProviderID uint32

// Manager is the ProviderID that addresses the battle manager.
const Manager ProviderID = 0

// IsManager reports whether id addresses the battle manager.
func (id ProviderID) IsManager() bool {
	return id == Manager
}

// String returns "manager" or the numeric provider id.
func (id ProviderID) String() string {
	if id == Manager {
		return "manager"
	}
	return fmt.Sprintf("provider#%d", id)
}

// OwningSide says which side runs a provider's logic.
type OwningSide uint8

const (
	SideUnknown OwningSide = iota
	ClientOwned
	ServerOwned
)

// String returns the owning side name.
func (s OwningSide) String() string {
	switch s {
	case ClientOwned:
		return "client"
	case ServerOwned:
		return "server"
	default:
		return "unknown"
	}
}

// Role is the networking role of the router's process.
type Role uint8

const (
	Standalone Role = iota
	AuthoritativeServer
	ConnectedClient
)

// String returns the role name as used in configuration.
func (r Role) String() string {
	switch r {
	case Standalone:
		return "standalone"
	case AuthoritativeServer:
		return "server"
	case ConnectedClient:
		return "client"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// ParseRole parses a role name.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standalone", "local", "":
		return Standalone, nil
	case "server", "authoritative":
		return AuthoritativeServer, nil
	case "client":
		return ConnectedClient, nil
	default:
		return Standalone, fmt.Errorf("unknown role %q", s)
	}
}
