package oru

import (
	"fmt"

	"github.com/multiformats/go-multiaddr"

	"github.com/Great1ng/oru/pkg/address"
)

// ParseIntroducer parses and checks an introducer address.
// The address must:
//   - Be a valid multiaddr
//   - Name a host (ip4, ip6 or dns) reachable over tcp
//   - Not itself route through a relay
//
// A trailing /p2p/<id> is allowed and is checked against the introducer's
// identity once it is known. Failures carry ErrCodeParse.
func ParseIntroducer(s string) (multiaddr.Multiaddr, error) {
	addr, err := address.Parse(s)
	if err != nil {
		return nil, NewError(ErrCodeParse, "invalid introducer address", err)
	}

	if address.IsCircuit(addr) {
		return nil, NewError(ErrCodeParse, fmt.Sprintf("introducer %s must not be a relayed address", addr), nil)
	}

	if !hasHost(addr) {
		return nil, NewError(ErrCodeParse, fmt.Sprintf("introducer %s names no host", addr), nil)
	}

	if _, err := addr.ValueForProtocol(multiaddr.P_TCP); err != nil {
		return nil, NewError(ErrCodeParse, fmt.Sprintf("introducer %s has no tcp port", addr), nil)
	}

	return addr, nil
}

func hasHost(addr multiaddr.Multiaddr) bool {
	for _, code := range []int{multiaddr.P_IP4, multiaddr.P_IP6, multiaddr.P_DNS, multiaddr.P_DNS4, multiaddr.P_DNS6} {
		if _, err := addr.ValueForProtocol(code); err == nil {
			return true
		}
	}
	return false
}
