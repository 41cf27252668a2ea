// Package crypto implements the primitives the storage engine builds
// on: AES-256-GCM authenticated encryption, Ed25519 signing,
// Scrypt/PBKDF2 password-based key derivation, and HMAC/SHA-256
// content hashing.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"veilnet.io/errors"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM standard nonce length in bytes.
	NonceSize = 12
	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16
)

// Sealed bundles a GCM-sealed payload: the random nonce, the ciphertext,
// and the authentication tag appended to it (Go's cipher.AEAD.Seal
// appends the tag to the ciphertext, so Ciphertext already includes it;
// CiphertextOnly/Tag split it out for callers, e.g. the wire layer,
// that want them addressed separately).
type Sealed struct {
	Nonce      [NonceSize]byte
	Ciphertext []byte // Includes the trailing GCM tag.
}

// CiphertextOnly returns the ciphertext with the trailing tag removed.
func (s *Sealed) CiphertextOnly() []byte {
	if len(s.Ciphertext) < TagSize {
		return nil
	}
	return s.Ciphertext[:len(s.Ciphertext)-TagSize]
}

// Tag returns the trailing GCM authentication tag.
func (s *Sealed) Tag() []byte {
	if len(s.Ciphertext) < TagSize {
		return nil
	}
	return s.Ciphertext[len(s.Ciphertext)-TagSize:]
}

func newGCM(key []byte) (cipher.AEAD, error) {
	const op = "crypto.newGCM"
	if len(key) != KeySize {
		return nil, errors.E(op, errors.Errorf("key must be %d bytes, got %d", KeySize, len(key)))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.E(op, err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return gcm, nil
}

// Encrypt seals plaintext under key with a fresh random 96-bit nonce,
// returning the nonce and the ciphertext||tag.
func Encrypt(plaintext, key []byte) (*Sealed, error) {
	const op = "crypto.Encrypt"
	gcm, err := newGCM(key)
	if err != nil {
		return nil, errors.E(op, err)
	}
	s := &Sealed{}
	if _, err := io.ReadFull(rand.Reader, s.Nonce[:]); err != nil {
		return nil, errors.E(op, err)
	}
	s.Ciphertext = gcm.Seal(nil, s.Nonce[:], plaintext, nil)
	return s, nil
}

// Decrypt opens a Sealed value under key, returning the plaintext. A
// tag mismatch (including tampering with any byte of ciphertext, tag,
// or the wrong key) is reported as errors.GCMTagFailure.
func Decrypt(s *Sealed, key []byte) ([]byte, error) {
	const op = "crypto.Decrypt"
	gcm, err := newGCM(key)
	if err != nil {
		return nil, errors.E(op, err)
	}
	plaintext, err := gcm.Open(nil, s.Nonce[:], s.Ciphertext, nil)
	if err != nil {
		return nil, errors.E(op, errors.GCMTagFailure, err)
	}
	return plaintext, nil
}

// EncryptWithAD seals plaintext with additional authenticated data,
// used to bind ciphertext to context (e.g. a share ID) without
// encrypting it.
func EncryptWithAD(plaintext, key, ad []byte) (*Sealed, error) {
	const op = "crypto.EncryptWithAD"
	gcm, err := newGCM(key)
	if err != nil {
		return nil, errors.E(op, err)
	}
	s := &Sealed{}
	if _, err := io.ReadFull(rand.Reader, s.Nonce[:]); err != nil {
		return nil, errors.E(op, err)
	}
	s.Ciphertext = gcm.Seal(nil, s.Nonce[:], plaintext, ad)
	return s, nil
}

// DecryptWithAD opens a Sealed value produced by EncryptWithAD.
func DecryptWithAD(s *Sealed, key, ad []byte) ([]byte, error) {
	const op = "crypto.DecryptWithAD"
	gcm, err := newGCM(key)
	if err != nil {
		return nil, errors.E(op, err)
	}
	plaintext, err := gcm.Open(nil, s.Nonce[:], s.Ciphertext, ad)
	if err != nil {
		return nil, errors.E(op, errors.GCMTagFailure, err)
	}
	return plaintext, nil
}

// MarshalSealed encodes a Sealed value as ciphertext||tag||nonce, the
// wire body format posted by the upload engine. The tag travels inside
// Ciphertext already; the nonce is appended so a single byte slice
// round-trips through transport.
func MarshalSealed(s *Sealed) []byte {
	out := make([]byte, 0, NonceSize+len(s.Ciphertext))
	out = append(out, s.Ciphertext...)
	out = append(out, s.Nonce[:]...)
	return out
}

// UnmarshalSealed reverses MarshalSealed.
func UnmarshalSealed(b []byte) (*Sealed, error) {
	const op = "crypto.UnmarshalSealed"
	if len(b) < NonceSize+TagSize {
		return nil, errors.E(op, errors.Str("sealed body too short"))
	}
	s := &Sealed{}
	split := len(b) - NonceSize
	copy(s.Nonce[:], b[split:])
	s.Ciphertext = append([]byte(nil), b[:split]...)
	return s, nil
}
