package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/zily-project/zily/internal/protocol"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// IVSize is the CBC initialization vector length in bytes.
	IVSize = aes.BlockSize
)

var (
	ErrInvalidKey     = errors.New("invalid aes key")
	ErrInvalidIV      = errors.New("invalid aes iv")
	ErrInvalidPadding = errors.New("invalid pkcs7 padding")
)

// AES encrypts the UTF-16 bytes of a text with AES-256-CBC and PKCS#7
// padding. The key exchange that feeds SetKey/SetIV is unauthenticated, so
// this only protects against passive observers of the stream.
type AES struct {
	mu  sync.RWMutex
	key []byte
	iv  []byte
}

// NewAES creates a cipher with a random key and IV.
func NewAES() (*AES, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate aes key: %w", err)
	}
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate aes iv: %w", err)
	}
	return &AES{key: key, iv: iv}, nil
}

// NewAESWith creates a cipher from an existing key and IV.
func NewAESWith(key, iv []byte) (*AES, error) {
	a := &AES{}
	if err := a.SetKey(key); err != nil {
		return nil, err
	}
	if err := a.SetIV(iv); err != nil {
		return nil, err
	}
	return a, nil
}

// Key returns a copy of the raw key.
func (a *AES) Key() []byte {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return bytes.Clone(a.key)
}

// IV returns a copy of the raw IV.
func (a *AES) IV() []byte {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return bytes.Clone(a.iv)
}

// SetKey adopts a key received from the peer.
func (a *AES) SetKey(key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(key), KeySize)
	}
	a.mu.Lock()
	a.key = bytes.Clone(key)
	a.mu.Unlock()
	return nil
}

// SetIV adopts an IV received from the peer.
func (a *AES) SetIV(iv []byte) error {
	if len(iv) != IVSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidIV, len(iv), IVSize)
	}
	a.mu.Lock()
	a.iv = bytes.Clone(iv)
	a.mu.Unlock()
	return nil
}

func (a *AES) Name() string {
	return "aes-256-cbc"
}

// Encrypt pads and encrypts the UTF-16 form of text.
func (a *AES) Encrypt(text string) ([]byte, error) {
	block, iv, err := a.block()
	if err != nil {
		return nil, err
	}

	plain := pkcs7Pad(protocol.EncodeText(text), aes.BlockSize)
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plain)
	return out, nil
}

// Decrypt reverses Encrypt.
func (a *AES) Decrypt(b []byte) (string, error) {
	if len(b) == 0 || len(b)%aes.BlockSize != 0 {
		return "", fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(b))
	}

	block, iv, err := a.block()
	if err != nil {
		return "", err
	}

	plain := make([]byte, len(b))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, b)

	plain, err = pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return protocol.DecodeText(plain)
}

func (a *AES) block() (cipher.Block, []byte, error) {
	a.mu.RLock()
	key, iv := a.key, a.iv
	a.mu.RUnlock()

	if len(key) != KeySize {
		return nil, nil, ErrInvalidKey
	}
	if len(iv) != IVSize {
		return nil, nil, ErrInvalidIV
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return block, iv, nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, ErrInvalidPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, ErrInvalidPadding
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, ErrInvalidPadding
		}
	}
	return b[:len(b)-n], nil
}
