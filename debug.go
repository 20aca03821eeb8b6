package oru

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DebugState represents the state of a Node for debugging purposes.
type DebugState struct {
	PeerID      string   `json:"peer_id"`
	ListenAddrs []string `json:"listen_addrs"`
	Version     string   `json:"version"`

	// PublicAddr and Introducer are set once Connect has completed.
	PublicAddr string `json:"public_addr,omitempty"`
	Introducer string `json:"introducer,omitempty"`

	Phase        string `json:"phase"`
	Reservation  string `json:"reservation"`
	Reservations int    `json:"reservations"`

	Stats  DebugStats  `json:"stats"`
	Config DebugConfig `json:"config"`

	CapturedAt time.Time `json:"captured_at"`
}

// DebugStats is the counter part of DebugState.
type DebugStats struct {
	ConnectedPeers       int   `json:"connected_peers"`
	EventsReceived       int64 `json:"events_received"`
	DiscoveryRounds      int   `json:"discovery_rounds"`
	LastDiscovered       int   `json:"last_discovered"`
	DialsIssued          int   `json:"dials_issued"`
	DialsFailed          int   `json:"dials_failed"`
	HolePunchesSucceeded int   `json:"hole_punches_succeeded"`
	HolePunchesFailed    int   `json:"hole_punches_failed"`
}

// DebugConfig represents configuration summary for debugging.
type DebugConfig struct {
	StartupGrace        string `json:"startup_grace"`
	ReservationAttempts int    `json:"reservation_attempts"`
	RediscoveryInterval string `json:"rediscovery_interval"`
	RedialCooldown      string `json:"redial_cooldown"`
	RegistrationTTL     string `json:"registration_ttl"`
	DialTimeout         string `json:"dial_timeout"`
}

// DebugState captures the current state of the node.
func (n *Node) DebugState() *DebugState {
	stats := n.Stats()

	state := &DebugState{
		PeerID:       n.ID().String(),
		Version:      CurrentVersion().String(),
		Phase:        stats.Phase.String(),
		Reservation:  stats.Reservation.String(),
		Reservations: stats.Reservations,
		Stats: DebugStats{
			ConnectedPeers:       stats.ConnectedPeers,
			EventsReceived:       stats.EventsReceived,
			DiscoveryRounds:      stats.DiscoveryRounds,
			LastDiscovered:       stats.LastDiscovered,
			DialsIssued:          stats.DialsIssued,
			DialsFailed:          stats.DialsFailed,
			HolePunchesSucceeded: stats.HolePunchesSucceeded,
			HolePunchesFailed:    stats.HolePunchesFailed,
		},
		Config: DebugConfig{
			StartupGrace:        n.config.StartupGrace.String(),
			ReservationAttempts: n.config.ReservationAttempts,
			RediscoveryInterval: n.config.RediscoveryInterval.String(),
			RedialCooldown:      n.config.RedialCooldown.String(),
			RegistrationTTL:     n.config.RegistrationTTL.String(),
			DialTimeout:         n.config.DialTimeout.String(),
		},
		CapturedAt: n.config.Clock.Now(),
	}

	for _, addr := range n.Addrs() {
		state.ListenAddrs = append(state.ListenAddrs, addr.String())
	}

	n.mu.RLock()
	if n.publicAddr != nil {
		state.PublicAddr = n.publicAddr.String()
	}
	if n.introducer != nil {
		state.Introducer = n.introducer.String()
	}
	n.mu.RUnlock()

	return state
}

// DebugStateJSON returns the node state as formatted JSON.
func (n *Node) DebugStateJSON() (string, error) {
	data, err := json.MarshalIndent(n.DebugState(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}
	return string(data), nil
}

// DebugStateString returns a human-readable representation of the node state.
func (n *Node) DebugStateString() string {
	state := n.DebugState()
	var sb strings.Builder

	sb.WriteString("=== oru node ===\n\n")

	fmt.Fprintf(&sb, "Peer ID:     %s\n", state.PeerID)
	fmt.Fprintf(&sb, "Version:     %s\n", state.Version)
	fmt.Fprintf(&sb, "Phase:       %s\n", state.Phase)
	if state.PublicAddr != "" {
		fmt.Fprintf(&sb, "Public addr: %s\n", state.PublicAddr)
		fmt.Fprintf(&sb, "Introducer:  %s\n", state.Introducer)
	}
	fmt.Fprintf(&sb, "Reservation: %s (%d held)\n\n", state.Reservation, state.Reservations)

	sb.WriteString("LISTEN ADDRESSES:\n")
	if len(state.ListenAddrs) == 0 {
		sb.WriteString("  (none)\n")
	}
	for _, addr := range state.ListenAddrs {
		fmt.Fprintf(&sb, "  - %s\n", addr)
	}
	sb.WriteString("\n")

	sb.WriteString("STATISTICS:\n")
	fmt.Fprintf(&sb, "  Connected peers:  %d\n", state.Stats.ConnectedPeers)
	fmt.Fprintf(&sb, "  Events received:  %d\n", state.Stats.EventsReceived)
	fmt.Fprintf(&sb, "  Discovery rounds: %d (last: %d registrations)\n", state.Stats.DiscoveryRounds, state.Stats.LastDiscovered)
	fmt.Fprintf(&sb, "  Dials:            %d issued, %d failed\n", state.Stats.DialsIssued, state.Stats.DialsFailed)
	fmt.Fprintf(&sb, "  Hole punches:     %d succeeded, %d failed\n", state.Stats.HolePunchesSucceeded, state.Stats.HolePunchesFailed)
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "Captured at: %s\n", state.CapturedAt.Format(time.RFC3339))

	return sb.String()
}

// DebugHandler returns an http.Handler serving DebugState as JSON.
//
//	http.Handle("/debug/state", oru.DebugHandler(node))
func DebugHandler(node *Node) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(node.DebugState())
	})
}
