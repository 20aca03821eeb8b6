package swarm

const (
	// DefaultProtocolVersion is the identify protocol version announced by
	// every node of the overlay.
	DefaultProtocolVersion = "/oru/0.1.0"

	// DefaultAgentVersion is the identify agent string.
	DefaultAgentVersion = "oru/0.1.0"
)
