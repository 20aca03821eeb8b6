/*
Package oru implements a peer-to-peer overlay node that finds and connects to
other nodes without either side needing a publicly reachable address.

A node bootstraps through a well-known introducer, which also acts as relay
and rendezvous point. It learns its own public address from the introducer,
asks it for every registered peer, and then either dials the peers it was
told about through the relay or, when nobody is registered yet, reserves a
relay slot and registers itself so later nodes can find it. Relayed
connections are upgraded to direct ones by hole punching when possible.

# Quick Start

	node, err := oru.New(oru.NewConfig(
		oru.WithLogger(oru.NewZapLogger(zapLogger)),
	))
	if err != nil {
		// Handle error
	}
	defer node.Close()

	conn, err := node.Connect(ctx, oru.DefaultIntroducer, 0)
	if err != nil {
		// Handle error
	}

	if err := conn.Handle(ctx); err != nil && oru.IsFatal(err) {
		// Exit
	}

# Connection Flow

 1. Connect listens on the requested TCP port and waits a short grace period.
 2. The introducer is dialed and both identify records are exchanged. The
    introducer's record carries our observed public address; ours gives it
    our identity.
 3. Handle requests discovery at the introducer.
 4. No registrations: listen on the relayed address through the introducer,
    wait for the reservation, then register under the "oru" namespace.
 5. Registrations: dial every registered peer through the introducer.
 6. Handle returns nil when the event stream ends and a typed *Error on
    refusal of a reservation, registration or discovery.

# Phases

A Connection moves through these phases, reported on Node.Status:

	Idle → DiscoveryRequested → SelfBootstrapping → SelfRegistering → Idle
	                          → DialingDiscoveredPeers → Idle

# Thread Safety

Node accessors (ID, Addrs, PublicAddr, Stats, DebugState) are safe for
concurrent use. Connect and Handle are the single consumer of the protocol
event stream; only one Connection may be live at a time and a second
Connect fails with ErrNodeBusy.

# Observability

Logging goes through the Logger interface (ZapLogger wraps zap), metrics
through the Metrics interface (see the prometheus subpackage) and tracing
through an OpenTelemetry TracerProvider (see the otel subpackage).
HealthHandler, LivenessHandler and DebugHandler expose the node over HTTP.
*/
package oru
