package protocol

import (
	"errors"
	"fmt"
	"io"
)

// Header is one wire message. It is immutable once constructed: senders
// build it from a flag and optional text (encrypted at construction),
// receivers get it from Decode (decrypted at parse time).
type Header struct {
	flag    Flag
	payload []byte
	text    string
	hasText bool
}

// NewHeader builds a header carrying text encrypted with enc. An empty text
// produces an empty payload.
func NewHeader(enc Encryptor, flag Flag, text string) (*Header, error) {
	if text == "" {
		return NewEmptyHeader(flag), nil
	}
	if flag.IsParameterless() {
		return nil, &FramingError{Flag: flag, Err: fmt.Errorf("parameterless flag cannot carry text")}
	}

	payload, err := enc.Encrypt(text)
	if err != nil {
		return nil, &FramingError{Flag: flag, Err: fmt.Errorf("failed to encrypt text: %w", err)}
	}
	if len(payload) > MaxPayloadSize {
		return nil, &FramingError{Flag: flag, Err: fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)}
	}

	return &Header{flag: flag, payload: payload, text: text, hasText: true}, nil
}

// NewRawHeader builds a header carrying raw bytes that are never encrypted,
// such as a key or IV blob. It has no text view.
func NewRawHeader(flag Flag, payload []byte) (*Header, error) {
	if len(payload) > 0 && flag.IsParameterless() {
		return nil, &FramingError{Flag: flag, Err: fmt.Errorf("parameterless flag cannot carry a payload")}
	}
	if len(payload) > MaxPayloadSize {
		return nil, &FramingError{Flag: flag, Err: fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)}
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	return &Header{flag: flag, payload: buf}, nil
}

// NewEmptyHeader builds a header without payload.
func NewEmptyHeader(flag Flag) *Header {
	return &Header{flag: flag, payload: []byte{}}
}

// Flag returns the header flag.
func (h *Header) Flag() Flag {
	return h.flag
}

// Length returns the payload size in bytes.
func (h *Header) Length() int {
	return len(h.payload)
}

// Payload returns a copy of the raw payload bytes.
func (h *Header) Payload() []byte {
	out := make([]byte, len(h.payload))
	copy(out, h.payload)
	return out
}

// Text returns the decoded text view. ok is false when the payload was not
// sent as text.
func (h *Header) Text() (text string, ok bool) {
	return h.text, h.hasText
}

// TextOrEmpty returns the text view, or "" when there is none.
func (h *Header) TextOrEmpty() string {
	return h.text
}

// Bytes encodes the header for the wire.
func (h *Header) Bytes() ([]byte, error) {
	return Encode(h.flag, h.payload)
}

// String returns a short description for logs.
func (h *Header) String() string {
	return fmt.Sprintf("Header[%s, %d bytes]", h.flag, len(h.payload))
}

// Encode frames a payload under flag. Parameterless flags are emitted as the
// flag byte alone; everything else gets a big-endian 16-bit length.
func Encode(flag Flag, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, &FramingError{Flag: flag, Err: fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)}
	}

	b := NewPayloadBuilder()
	if flag.IsParameterless() {
		if len(payload) > 0 {
			return nil, &FramingError{Flag: flag, Err: fmt.Errorf("parameterless flag cannot carry a payload")}
		}
		return b.WriteFlag(flag).Build(), nil
	}

	return b.WriteFlag(flag).WriteUint16(uint16(len(payload))).WriteBytes(payload).Build(), nil
}

// WriteHeader writes one encoded header in a single call.
func WriteHeader(w io.Writer, h *Header) error {
	data, err := h.Bytes()
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", h.flag, err)
	}
	return nil
}

// Decode reads one header from r. A missing flag byte is reported as the
// underlying I/O error. Length bytes cut off by end-of-stream count as zero
// so a half-closed stream still yields its last message. The payload is read
// in full and decrypted with enc; payloads that do not decode as text keep
// only their raw bytes. Under a plain UTF-16 encryptor almost any even-sized
// payload decodes, so callers expecting a raw blob use DecodeRaw.
func Decode(r io.Reader, enc Encryptor) (*Header, error) {
	h, err := DecodeRaw(r)
	if err != nil || h.Length() == 0 {
		return h, err
	}
	if text, err := enc.Decrypt(h.payload); err == nil {
		h.text = text
		h.hasText = true
	}
	return h, nil
}

// DecodeRaw reads one header like Decode but never produces a text view.
func DecodeRaw(r io.Reader) (*Header, error) {
	var one [1]byte
	if _, err := io.ReadFull(r, one[:]); err != nil {
		return nil, err
	}
	flag := Flag(one[0])

	if flag.IsParameterless() {
		return NewEmptyHeader(flag), nil
	}

	hi := readLengthByte(r)
	lo := readLengthByte(r)
	length := int(hi)<<8 | int(lo)
	if length == 0 {
		return NewEmptyHeader(flag), nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &FramingError{Flag: flag, Err: fmt.Errorf("payload truncated: %w", err)}
		}
		return nil, err
	}

	return &Header{flag: flag, payload: payload}, nil
}

func readLengthByte(r io.Reader) byte {
	var one [1]byte
	if _, err := io.ReadFull(r, one[:]); err != nil {
		return 0
	}
	return one[0]
}
