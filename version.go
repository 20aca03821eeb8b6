package oru

import (
	"fmt"
	"strings"
)

// Protocol version constants. The version is announced through identify as
// "/oru/<major>.<minor>.<patch>".
const (
	ProtocolVersionMajor = 0
	ProtocolVersionMinor = 1
	ProtocolVersionPatch = 0
)

// protocolPrefix is prepended to the version in identify records.
const protocolPrefix = "/" + Namespace + "/"

// ProtocolVersion is the oru protocol version.
type ProtocolVersion struct {
	Major uint8
	Minor uint8
	Patch uint8
}

// CurrentVersion returns the current oru protocol version.
func CurrentVersion() ProtocolVersion {
	return ProtocolVersion{
		Major: ProtocolVersionMajor,
		Minor: ProtocolVersionMinor,
		Patch: ProtocolVersionPatch,
	}
}

// String returns the version as a semantic version string (e.g., "0.1.0").
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Identify returns the version as announced through identify.
func (v ProtocolVersion) Identify() string {
	return protocolPrefix + v.String()
}

// Compatible returns true if a peer announcing other can be talked to.
// Major versions must match and the peer's minor version must not exceed
// ours.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	if v.Major != other.Major {
		return false
	}
	return other.Minor <= v.Minor
}

// ParseVersion parses "major.minor.patch", optionally in the identify form
// "/oru/major.minor.patch".
func ParseVersion(s string) (ProtocolVersion, error) {
	var v ProtocolVersion
	n, err := fmt.Sscanf(strings.TrimPrefix(s, protocolPrefix), "%d.%d.%d", &v.Major, &v.Minor, &v.Patch)
	if err != nil {
		return v, fmt.Errorf("invalid version format %q: %w", s, err)
	}
	if n != 3 {
		return v, fmt.Errorf("invalid version format %q: expected major.minor.patch", s)
	}
	return v, nil
}

// checkPeerVersion logs a warning when a peer announces an oru protocol
// version we are not compatible with. Peers announcing a foreign protocol
// are not checked.
func (n *Node) checkPeerVersion(p fmt.Stringer, announced string) {
	if !strings.HasPrefix(announced, protocolPrefix) {
		return
	}
	theirs, err := ParseVersion(announced)
	if err != nil {
		n.config.Logger.Warn("peer announced a malformed protocol version", "peer", p, "version", announced)
		return
	}
	if !CurrentVersion().Compatible(theirs) {
		n.config.Logger.Warn("peer protocol version is incompatible",
			"peer", p, "ours", CurrentVersion(), "theirs", theirs)
	}
}
