// Package sealed centralizes the one type allowed to hold secret material in
// memory: a small wrapper around AES-256-GCM ciphertext, IV, and tag. No
// other part of the codebase should decrypt provider keys, SMTP passwords, or
// agent action tokens — everything routes through Keyring.
package sealed

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	KeySize = 32 // AES-256
	IVSize  = 12 // GCM standard nonce size
	TagSize = 16
)

var (
	ErrKeySize   = errors.New("sealed: encryption key must be 32 bytes")
	ErrDecrypt   = errors.New("sealed: decryption failed")
	ErrBadFormat = errors.New("sealed: malformed ciphertext/iv/tag")
)

// Keyring wraps the process-wide 32-byte encryption key loaded once at
// startup (SECRET_ENCRYPTION_KEY) and is immutable at
// runtime.
type Keyring struct {
	key []byte
}

// NewKeyring validates and wraps a 32-byte key.
func NewKeyring(key []byte) (*Keyring, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Keyring{key: k}, nil
}

// Sealed holds the three columns every secret-bearing row stores separately:
// ciphertext, a 12-byte IV, and a 16-byte GCM tag.
type Sealed struct {
	Ciphertext []byte
	IV         []byte
	Tag        []byte
}

// Seal encrypts plaintext with a fresh random IV.
func (k *Keyring) Seal(plaintext []byte) (Sealed, error) {
	block, err := aes.NewCipher(k.key)
	if err != nil {
		return Sealed{}, fmt.Errorf("sealed: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, TagSize)
	if err != nil {
		return Sealed{}, fmt.Errorf("sealed: new gcm: %w", err)
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return Sealed{}, fmt.Errorf("sealed: generate iv: %w", err)
	}

	// Seal appends the tag to the ciphertext; split it back out so callers
	// can store ciphertext/iv/tag in three separate columns as spec'd.
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	if len(sealed) < TagSize {
		return Sealed{}, ErrBadFormat
	}
	ct := sealed[:len(sealed)-TagSize]
	tag := sealed[len(sealed)-TagSize:]

	return Sealed{Ciphertext: ct, IV: iv, Tag: tag}, nil
}

// Open decrypts s, verifying the tag.
func (k *Keyring) Open(s Sealed) ([]byte, error) {
	if len(s.IV) != IVSize || len(s.Tag) != TagSize {
		return nil, ErrBadFormat
	}
	block, err := aes.NewCipher(k.key)
	if err != nil {
		return nil, fmt.Errorf("sealed: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, TagSize)
	if err != nil {
		return nil, fmt.Errorf("sealed: new gcm: %w", err)
	}

	combined := make([]byte, 0, len(s.Ciphertext)+len(s.Tag))
	combined = append(combined, s.Ciphertext...)
	combined = append(combined, s.Tag...)

	pt, err := gcm.Open(nil, s.IV, combined, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}

// SealString/OpenString are the common case: secrets are almost always text
// (API keys, passwords, tokens).
func (k *Keyring) SealString(plaintext string) (Sealed, error) {
	return k.Seal([]byte(plaintext))
}

func (k *Keyring) OpenString(s Sealed) (string, error) {
	pt, err := k.Open(s)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
