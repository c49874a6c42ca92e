// Package encryption provides the payload transforms a session can switch
// between. Only payload bytes change between implementations; framing is the
// same for all of them.
package encryption

import (
	"github.com/zily-project/zily/internal/protocol"
)

// Encryptor is the transform applied to text payloads.
type Encryptor = protocol.Encryptor

// None sends text as plain UTF-16.
type None struct{}

// Encrypt converts text to UTF-16 bytes.
func (None) Encrypt(text string) ([]byte, error) {
	return protocol.EncodeText(text), nil
}

// Decrypt converts UTF-16 bytes back to text.
func (None) Decrypt(b []byte) (string, error) {
	return protocol.DecodeText(b)
}

func (None) Name() string {
	return "none"
}
