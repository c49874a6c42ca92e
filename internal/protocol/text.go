package protocol

import (
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// Text payloads travel as UTF-16 little-endian without a byte order mark.
var utf16 = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// EncodeText converts a string to its UTF-16 wire bytes.
func EncodeText(s string) []byte {
	if s == "" {
		return []byte{}
	}
	b, err := utf16.NewEncoder().Bytes([]byte(s))
	if err != nil {
		// The encoder replaces invalid UTF-8 instead of failing.
		return []byte{}
	}
	return b
}

// DecodeText converts UTF-16 wire bytes back to a string.
func DecodeText(b []byte) (string, error) {
	if len(b) == 0 {
		return "", nil
	}
	if len(b)%2 != 0 {
		return "", fmt.Errorf("utf-16 payload has odd length %d", len(b))
	}
	out, err := utf16.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("failed to decode utf-16 payload: %w", err)
	}
	return string(out), nil
}

// Encryptor transforms text payloads. Implementations live in the
// encryption package; the identity implementation only converts to UTF-16.
type Encryptor interface {
	Encrypt(text string) ([]byte, error)
	Decrypt(b []byte) (string, error)
	Name() string
}
