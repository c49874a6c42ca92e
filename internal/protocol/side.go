package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// SideDelimiter separates the fields of a serialized Side.
const SideDelimiter = ";"

// APIVersion is the protocol version this implementation speaks.
var APIVersion = Version{Major: 2, Minor: 0}

// Version is a major.minor protocol version.
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

// ParseVersion parses "major.minor". A bare major number is accepted.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("empty version")
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		// Tolerate build/revision components by ignoring them.
		parts = parts[:2]
	}

	major, err := strconv.Atoi(parts[0])
	if err != nil || major < 0 {
		return Version{}, fmt.Errorf("invalid major version %q", parts[0])
	}

	v := Version{Major: major}
	if len(parts) == 2 {
		minor, err := strconv.Atoi(parts[1])
		if err != nil || minor < 0 {
			return Version{}, fmt.Errorf("invalid minor version %q", parts[1])
		}
		v.Minor = minor
	}
	return v, nil
}

// String renders the version as "major.minor".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// IsZero reports whether no version has been set.
func (v Version) IsZero() bool {
	return v.Major == 0 && v.Minor == 0
}

// Side identifies one participant of a session.
type Side struct {
	Protocol string  `json:"protocol"`
	Version  Version `json:"version"`
	Name     string  `json:"name"`
}

// NewSide builds a Side and checks that it can be serialized.
func NewSide(protocol string, version Version, name string) (Side, error) {
	s := Side{Protocol: protocol, Version: version, Name: name}
	if err := s.Validate(); err != nil {
		return Side{}, err
	}
	return s, nil
}

// Validate checks the field invariants.
func (s Side) Validate() error {
	if s.Protocol == "" {
		return fmt.Errorf("%w: protocol is required", ErrInvalidSide)
	}
	if strings.Contains(s.Protocol, SideDelimiter) {
		return fmt.Errorf("%w: protocol %q contains %q", ErrInvalidSide, s.Protocol, SideDelimiter)
	}
	if strings.Contains(s.Name, SideDelimiter) {
		return fmt.Errorf("%w: name %q contains %q", ErrInvalidSide, s.Name, SideDelimiter)
	}
	return nil
}

// String serializes the side as "protocol;major.minor;name".
func (s Side) String() string {
	return strings.Join([]string{s.Protocol, s.Version.String(), s.Name}, SideDelimiter)
}

// ParseSide is the inverse of Side.String.
func ParseSide(raw string) (Side, error) {
	parts := strings.Split(raw, SideDelimiter)
	if len(parts) != 3 {
		return Side{}, fmt.Errorf("%w: expected 3 fields, got %d", ErrInvalidSide, len(parts))
	}

	version, err := ParseVersion(parts[1])
	if err != nil {
		return Side{}, fmt.Errorf("%w: %v", ErrInvalidSide, err)
	}

	s := Side{Protocol: parts[0], Version: version, Name: parts[2]}
	if s.Protocol == "" {
		return Side{}, fmt.Errorf("%w: protocol is required", ErrInvalidSide)
	}
	return s, nil
}

// Compatible checks whether a peer can talk to s: same protocol and same
// major version.
func (s Side) Compatible(peer Side) error {
	if s.Protocol != peer.Protocol {
		return fmt.Errorf("%w: local %q, peer %q", ErrProtocolMismatch, s.Protocol, peer.Protocol)
	}
	if s.Version.Major != peer.Version.Major {
		return fmt.Errorf("%w: local %s, peer %s", ErrVersionMismatch, s.Version, peer.Version)
	}
	return nil
}
