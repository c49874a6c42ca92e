// Package protocol implements the zily wire format: the flag taxonomy, the
// header codec, peer identities and the error kinds shared by both sides of
// a session. Every message is a flag byte, an optional 2-byte big-endian
// length and the payload bytes.
package protocol

import (
	"fmt"
	"sync"
)

// Flag identifies the purpose of a message and its framing shape.
type Flag uint8

// Built-in flags. Values are fixed so peers interoperate.
const (
	Unknown        Flag = 0  // Sentinel, never legally sent
	Ok             Flag = 1  // Prior request succeeded
	Fail           Flag = 2  // Prior request failed, payload is the error text
	Warn           Flag = 3  // Advisory text, does not fail the caller
	Connected      Flag = 4  // Handshake completion signal
	Disconnected   Flag = 5  // Graceful close signal
	VersionInfo    Flag = 6  // Payload is the peer's protocol version
	SideIdentifier Flag = 7  // Payload is a serialized Side
	Write          Flag = 10 // Text to display at the receiver
	VersionQuery   Flag = 11 // Asks the peer for VersionInfo
	AesKey         Flag = 12 // Asks the peer for its raw AES key
	AesIV          Flag = 13 // Asks the peer for its raw AES IV
)

// MaxPayloadSize is the largest payload a single header can carry.
const MaxPayloadSize = 65535

// LengthPrefixSize is the size of the length field in bytes.
const LengthPrefixSize = 2

// Facets declares how a flag is framed and dispatched. There is no default:
// every flag in the table spells out all three properties.
type Facets struct {
	Name          string
	Request       bool
	Response      bool
	Parameterless bool
}

var (
	flagMu    sync.RWMutex
	flagTable = map[Flag]Facets{
		Unknown:        {Name: "Unknown", Request: false, Response: false, Parameterless: false},
		Ok:             {Name: "Ok", Request: false, Response: true, Parameterless: false},
		Fail:           {Name: "Fail", Request: false, Response: true, Parameterless: false},
		Warn:           {Name: "Warn", Request: false, Response: true, Parameterless: false},
		Connected:      {Name: "Connected", Request: false, Response: false, Parameterless: false},
		Disconnected:   {Name: "Disconnected", Request: false, Response: false, Parameterless: false},
		VersionInfo:    {Name: "VersionInfo", Request: false, Response: true, Parameterless: false},
		SideIdentifier: {Name: "SideIdentifier", Request: false, Response: true, Parameterless: false},
		Write:          {Name: "Write", Request: true, Response: false, Parameterless: false},
		VersionQuery:   {Name: "Version", Request: true, Response: false, Parameterless: true},
		AesKey:         {Name: "AesKey", Request: true, Response: false, Parameterless: true},
		AesIV:          {Name: "AesIV", Request: true, Response: false, Parameterless: true},
	}
)

// Register adds a flag to the taxonomy. Built-in flags cannot be redeclared,
// and a flag cannot be both a request and a response.
func Register(flag Flag, facets Facets) error {
	if facets.Request && facets.Response {
		return fmt.Errorf("flag %d: a flag cannot be both request and response", flag)
	}
	if facets.Name == "" {
		return fmt.Errorf("flag %d: name is required", flag)
	}

	flagMu.Lock()
	defer flagMu.Unlock()

	if existing, ok := flagTable[flag]; ok {
		return fmt.Errorf("flag %d is already registered as %s", flag, existing.Name)
	}
	flagTable[flag] = facets
	return nil
}

// Lookup returns the declared facets of a flag.
func Lookup(flag Flag) (Facets, bool) {
	flagMu.RLock()
	defer flagMu.RUnlock()
	f, ok := flagTable[flag]
	return f, ok
}

// RepliesRaw reports whether the reply to this request carries a raw byte
// blob instead of text.
func (f Flag) RepliesRaw() bool {
	return f == AesKey || f == AesIV
}

// Known reports whether the flag is part of the taxonomy.
func (f Flag) Known() bool {
	_, ok := Lookup(f)
	return ok
}

// IsRequest reports whether the flag obligates the receiver to respond.
func (f Flag) IsRequest() bool {
	facets, _ := Lookup(f)
	return facets.Request
}

// IsResponse reports whether the flag answers a previously sent request.
func (f Flag) IsResponse() bool {
	facets, _ := Lookup(f)
	return facets.Response
}

// IsParameterless reports whether the flag is encoded without a length field.
// Flags outside the taxonomy always carry one.
func (f Flag) IsParameterless() bool {
	facets, _ := Lookup(f)
	return facets.Parameterless
}

// IsControl reports whether the flag is a session control signal that is
// only dispatched through the top-level switch.
func (f Flag) IsControl() bool {
	return f == Connected || f == Disconnected
}

// String returns the flag name, or Flag(n) for values outside the taxonomy.
func (f Flag) String() string {
	if facets, ok := Lookup(f); ok {
		return facets.Name
	}
	return fmt.Sprintf("Flag(%d)", uint8(f))
}
