package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PayloadBuilder assembles frames. Multi-byte integers are big-endian, the
// byte order of the length field.
type PayloadBuilder struct {
	buf bytes.Buffer
}

// NewPayloadBuilder creates a new PayloadBuilder.
func NewPayloadBuilder() *PayloadBuilder {
	return &PayloadBuilder{}
}

// Reset clears the builder for reuse.
func (b *PayloadBuilder) Reset() {
	b.buf.Reset()
}

// WriteFlag writes a flag byte.
func (b *PayloadBuilder) WriteFlag(f Flag) *PayloadBuilder {
	b.buf.WriteByte(byte(f))
	return b
}

// WriteByte writes a single byte.
func (b *PayloadBuilder) WriteByte(v byte) *PayloadBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteUint16 writes a uint16 in big-endian order.
func (b *PayloadBuilder) WriteUint16(v uint16) *PayloadBuilder {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

// WriteText writes s as UTF-16 without a length prefix.
func (b *PayloadBuilder) WriteText(s string) *PayloadBuilder {
	b.buf.Write(EncodeText(s))
	return b
}

// WriteBytes writes raw bytes.
func (b *PayloadBuilder) WriteBytes(data []byte) *PayloadBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the constructed bytes.
func (b *PayloadBuilder) Build() []byte {
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

// Len returns the current size of the frame being built.
func (b *PayloadBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current frame for debugging.
func (b *PayloadBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PayloadBuilder[%d bytes]: %x", len(data), data)
}
