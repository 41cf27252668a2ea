package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"

	"veilnet.io/errors"
)

// Default Scrypt cost parameters for PROTECTED shares.
const (
	DefaultScryptN = 16384
	DefaultScryptR = 8
	DefaultScryptP = 1

	// DefaultPBKDF2Iter is the default PBKDF2 iteration count.
	DefaultPBKDF2Iter = 100_000

	// DefaultSaltSize is the salt length used by NewSalt.
	DefaultSaltSize = 16
)

// NewSalt returns a fresh random salt of the given length.
func NewSalt(size int) ([]byte, error) {
	const op = "crypto.NewSalt"
	salt := make([]byte, size)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.E(op, err)
	}
	return salt, nil
}

// DeriveScrypt derives a keyLen-byte key from password and salt using
// Scrypt. This is the default KDF for PROTECTED shares because it
// resists GPU-based password attacks better than PBKDF2.
func DeriveScrypt(password, salt []byte, n, r, p, keyLen int) ([]byte, error) {
	const op = "crypto.DeriveScrypt"
	if n == 0 {
		n = DefaultScryptN
	}
	if r == 0 {
		r = DefaultScryptR
	}
	if p == 0 {
		p = DefaultScryptP
	}
	if keyLen == 0 {
		keyLen = KeySize
	}
	key, err := scrypt.Key(password, salt, n, r, p, keyLen)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return key, nil
}

// DerivePBKDF2 derives a keyLen-byte key from password and salt using
// PBKDF2-HMAC-SHA256.
func DerivePBKDF2(password, salt []byte, iter, keyLen int) []byte {
	if iter == 0 {
		iter = DefaultPBKDF2Iter
	}
	if keyLen == 0 {
		keyLen = KeySize
	}
	return pbkdf2.Key(password, salt, iter, keyLen, sha256New)
}
