package swarm

import (
	"github.com/libp2p/go-libp2p/p2p/protocol/holepunch"
)

// holePunchTracer forwards hole punching progress into the event stream.
// The outcome is informational; nothing downstream waits on it.
type holePunchTracer struct {
	s *Swarm
}

var _ holepunch.EventTracer = (*holePunchTracer)(nil)

// Trace implements holepunch.EventTracer.
func (t *holePunchTracer) Trace(evt *holepunch.Event) {
	if evt == nil {
		return
	}
	t.s.publishAsync(translateHolePunch(evt))
}

func translateHolePunch(evt *holepunch.Event) HolePunchEvent {
	out := HolePunchEvent{Peer: evt.Remote, Kind: HolePunchOther}

	switch e := evt.Evt.(type) {
	case *holepunch.StartHolePunchEvt:
		out.Kind = HolePunchStarted
	case *holepunch.HolePunchAttemptEvt:
		out.Kind = HolePunchAttempt
		out.Attempt = e.Attempt
	case *holepunch.EndHolePunchEvt:
		out.Kind = HolePunchFinished
		out.Success = e.Success
		out.Elapsed = e.EllapsedTime
		out.Err = e.Error
	case *holepunch.DirectDialEvt:
		out.Kind = DirectDial
		out.Success = e.Success
		out.Elapsed = e.EllapsedTime
		out.Err = e.Error
	case *holepunch.ProtocolErrorEvt:
		out.Kind = HolePunchProtocolError
		out.Err = e.Error
	}

	return out
}
