package connection

import (
	"testing"
)

func TestPhase_String(t *testing.T) {
	tests := []struct {
		phase    Phase
		expected string
	}{
		{PhaseIdle, "Idle"},
		{PhaseDiscoveryRequested, "DiscoveryRequested"},
		{PhaseSelfBootstrapping, "SelfBootstrapping"},
		{PhaseSelfRegistering, "SelfRegistering"},
		{PhaseDialingDiscoveredPeers, "DialingDiscoveredPeers"},
		{Phase(999), "Unknown(999)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.phase.String(); got != tt.expected {
				t.Errorf("String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestPhase_IsWaiting(t *testing.T) {
	tests := []struct {
		phase   Phase
		waiting bool
	}{
		{PhaseIdle, false},
		{PhaseDiscoveryRequested, true},
		{PhaseSelfBootstrapping, true},
		{PhaseSelfRegistering, true},
		{PhaseDialingDiscoveredPeers, false},
	}

	for _, tt := range tests {
		t.Run(tt.phase.String(), func(t *testing.T) {
			if got := tt.phase.IsWaiting(); got != tt.waiting {
				t.Errorf("IsWaiting() = %v, want %v", got, tt.waiting)
			}
		})
	}
}

func TestPhase_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name          string
		from          Phase
		to            Phase
		canTransition bool
	}{
		{"idle -> discovery", PhaseIdle, PhaseDiscoveryRequested, true},
		{"idle -> bootstrapping", PhaseIdle, PhaseSelfBootstrapping, false},
		{"idle -> dialing", PhaseIdle, PhaseDialingDiscoveredPeers, false},

		{"discovery -> bootstrapping", PhaseDiscoveryRequested, PhaseSelfBootstrapping, true},
		{"discovery -> dialing", PhaseDiscoveryRequested, PhaseDialingDiscoveredPeers, true},
		{"discovery -> registering", PhaseDiscoveryRequested, PhaseSelfRegistering, false},
		{"discovery -> idle", PhaseDiscoveryRequested, PhaseIdle, false},

		{"bootstrapping -> registering", PhaseSelfBootstrapping, PhaseSelfRegistering, true},
		{"bootstrapping -> idle", PhaseSelfBootstrapping, PhaseIdle, false},

		{"registering -> idle", PhaseSelfRegistering, PhaseIdle, true},
		{"registering -> discovery", PhaseSelfRegistering, PhaseDiscoveryRequested, false},

		{"dialing -> idle", PhaseDialingDiscoveredPeers, PhaseIdle, true},
		{"dialing -> discovery", PhaseDialingDiscoveredPeers, PhaseDiscoveryRequested, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.canTransition {
				t.Errorf("CanTransitionTo() = %v, want %v", got, tt.canTransition)
			}
		})
	}
}

func TestTracker_FullCycle(t *testing.T) {
	var seen []Phase
	tr := NewTracker(func(_, to Phase) { seen = append(seen, to) })

	if tr.Phase() != PhaseIdle {
		t.Fatalf("initial phase = %s, want Idle", tr.Phase())
	}

	steps := []Phase{
		PhaseDiscoveryRequested,
		PhaseSelfBootstrapping,
		PhaseSelfRegistering,
		PhaseIdle,
		PhaseDiscoveryRequested,
		PhaseDialingDiscoveredPeers,
		PhaseIdle,
	}
	for _, p := range steps {
		if err := tr.Transition(p); err != nil {
			t.Fatalf("Transition(%s) failed: %v", p, err)
		}
	}

	if len(seen) != len(steps) {
		t.Fatalf("callback saw %d transitions, want %d", len(seen), len(steps))
	}
}

func TestTracker_InvalidTransitionKeepsPhase(t *testing.T) {
	called := false
	tr := NewTracker(func(_, _ Phase) { called = true })

	if err := tr.Transition(PhaseSelfRegistering); err == nil {
		t.Fatal("Transition should fail from Idle to SelfRegistering")
	}
	if tr.Phase() != PhaseIdle {
		t.Errorf("phase = %s after failed transition, want Idle", tr.Phase())
	}
	if called {
		t.Error("callback should not run for a rejected transition")
	}
}
