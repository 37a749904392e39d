package battle

// BattleManager is the authoritative referee. It is addressed by the
// Manager provider id.
type BattleManager interface {
	// Witness sees messages routed to providers before they are
	// delivered. Returning false intercepts the message.
	Witness(msg Message) bool

	// Reply handles a message addressed to the manager.
	Reply(msg Message)
}

// Sender is the routing surface handed to managers and providers so they
// can answer without holding the router itself.
type Sender interface {
	Send(msg Message, recipient ProviderID)
	Intersend(msg Message, a, b ProviderID)
	ReturnMessage(original, reply Message) bool
}
