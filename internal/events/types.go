// Package events defines event types and the in-process event bus that
// carries routing and battle observations to journal and telemetry
// subscribers.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Routing events
	EventRouteDelivered   EventType = "route_delivered"
	EventRouteTransmitted EventType = "route_transmitted"
	EventRouteIntercepted EventType = "route_intercepted"
	EventRouteDropped     EventType = "route_dropped"

	// Peer events
	EventPeerJoined EventType = "peer_joined"
	EventPeerLeft   EventType = "peer_left"

	// Battle lifecycle events
	EventBattleStarted EventType = "battle_started"
	EventBattleEnded   EventType = "battle_ended"

	// System events
	EventHealthChanged EventType = "health_changed"
	EventShutdown      EventType = "shutdown"
)

// RouteEventTypes lists every routing event, for subscribers that record
// all of them.
var RouteEventTypes = []EventType{
	EventRouteDelivered,
	EventRouteTransmitted,
	EventRouteIntercepted,
	EventRouteDropped,
}

// RouteAction names what the router did with a message.
type RouteAction string

const (
	ActionWitness   RouteAction = "witness"
	ActionReply     RouteAction = "reply"
	ActionBroadcast RouteAction = "broadcast"
	ActionUnicast   RouteAction = "unicast"
	ActionIntercept RouteAction = "intercept"
	ActionDrop      RouteAction = "drop"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	At      time.Time
	Payload interface{}
}

// RoutePayload describes one routing decision.
type RoutePayload struct {
	Role      string      `json:"role"`
	Type      string      `json:"type"`
	Sender    string      `json:"sender"`
	Recipient string      `json:"recipient"`
	Action    RouteAction `json:"action"`
	Target    string      `json:"target,omitempty"`
	Detail    string      `json:"detail,omitempty"`
}

// PeerPayload describes a peer joining or leaving the server.
type PeerPayload struct {
	Index     uint8  `json:"index"`
	Remote    string `json:"remote"`
	Transport string `json:"transport"`
}

// BattlePayload describes a battle lifecycle change.
type BattlePayload struct {
	BattleID     string   `json:"battle_id"`
	Format       string   `json:"format,omitempty"`
	Participants []string `json:"participants"`
	Winner       string   `json:"winner,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	Turns        int      `json:"turns"`
}

// HealthPayload describes a change of the node's overall health level.
type HealthPayload struct {
	Level    string   `json:"level"`
	Previous string   `json:"previous,omitempty"`
	Problems []string `json:"problems,omitempty"`
}
