// Package connection tracks the phases a live overlay connection moves
// through and computes retry delays for its relay reservation.
package connection

import "fmt"

// Phase is the position of a connection in its discovery cycle.
type Phase int

const (
	// PhaseIdle indicates no request is outstanding.
	PhaseIdle Phase = iota

	// PhaseDiscoveryRequested indicates a discovery request was sent to the
	// rendezvous node and its result is awaited.
	PhaseDiscoveryRequested

	// PhaseSelfBootstrapping indicates discovery came back empty and the
	// node is reserving a relay slot to become reachable.
	PhaseSelfBootstrapping

	// PhaseSelfRegistering indicates the reservation was accepted and the
	// node is registering under the overlay namespace.
	PhaseSelfRegistering

	// PhaseDialingDiscoveredPeers indicates dials were issued to every
	// discovered peer.
	PhaseDialingDiscoveredPeers
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseDiscoveryRequested:
		return "DiscoveryRequested"
	case PhaseSelfBootstrapping:
		return "SelfBootstrapping"
	case PhaseSelfRegistering:
		return "SelfRegistering"
	case PhaseDialingDiscoveredPeers:
		return "DialingDiscoveredPeers"
	default:
		return fmt.Sprintf("Unknown(%d)", p)
	}
}

// IsWaiting returns true if the phase has a request outstanding at the
// rendezvous or relay node.
func (p Phase) IsWaiting() bool {
	return p == PhaseDiscoveryRequested || p == PhaseSelfBootstrapping ||
		p == PhaseSelfRegistering
}

var validTransitions = map[Phase][]Phase{
	PhaseIdle:                   {PhaseDiscoveryRequested},
	PhaseDiscoveryRequested:     {PhaseSelfBootstrapping, PhaseDialingDiscoveredPeers},
	PhaseSelfBootstrapping:      {PhaseSelfRegistering},
	PhaseSelfRegistering:        {PhaseIdle},
	PhaseDialingDiscoveredPeers: {PhaseIdle},
}

// CanTransitionTo checks if a transition from the current phase to the
// target phase is valid.
func (p Phase) CanTransitionTo(target Phase) bool {
	for _, t := range validTransitions[p] {
		if t == target {
			return true
		}
	}
	return false
}

// ValidateTransition returns an error if the transition is invalid.
func (p Phase) ValidateTransition(target Phase) error {
	if !p.CanTransitionTo(target) {
		return fmt.Errorf("invalid phase transition: %s -> %s", p, target)
	}
	return nil
}

// Tracker holds the current phase of one connection. It is owned by the
// single goroutine driving the connection and is not safe for concurrent
// use.
type Tracker struct {
	phase Phase
	onSet func(from, to Phase)
}

// NewTracker returns a tracker in PhaseIdle. onSet, if non-nil, is called
// after every successful transition.
func NewTracker(onSet func(from, to Phase)) *Tracker {
	return &Tracker{phase: PhaseIdle, onSet: onSet}
}

// Phase returns the current phase.
func (t *Tracker) Phase() Phase {
	return t.phase
}

// Transition moves to target, or returns an error leaving the phase
// unchanged.
func (t *Tracker) Transition(target Phase) error {
	if err := t.phase.ValidateTransition(target); err != nil {
		return err
	}
	from := t.phase
	t.phase = target
	if t.onSet != nil {
		t.onSet(from, target)
	}
	return nil
}
