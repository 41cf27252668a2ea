package crypto

import (
	"crypto/ed25519"
	"crypto/rand"

	"veilnet.io/errors"
)

// KeyPair is an Ed25519 signing keypair.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair mints a fresh Ed25519 keypair, used once for a user's
// permanent identity key or a folder's signing key. Keys are never
// rotated in place; a new identity requires a new keypair.
func GenerateKeyPair() (*KeyPair, error) {
	const op = "crypto.GenerateKeyPair"
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// Sign signs message with the Ed25519 private key.
func Sign(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}

// Verify reports whether sig is a valid Ed25519 signature of message
// under pub. It returns errors.SignatureInvalid on mismatch; tampering
// with any byte of message or signature invalidates it.
func Verify(pub ed25519.PublicKey, message, sig []byte) error {
	const op = "crypto.Verify"
	if !ed25519.Verify(pub, message, sig) {
		return errors.E(op, errors.SignatureInvalid)
	}
	return nil
}
