package access

import (
	"crypto/ed25519"
	"crypto/rand"
	"io"

	"veilnet.io/errors"
	"veilnet.io/veilnet"
)

// ChallengeSize is the length in bytes of a Schnorr-style challenge.
const ChallengeSize = 32

// NewChallenge issues a fresh random challenge for a PRIVATE share
// access attempt.
func NewChallenge() ([]byte, error) {
	const op = "access.NewChallenge"
	c := make([]byte, ChallengeSize)
	if _, err := io.ReadFull(rand.Reader, c); err != nil {
		return nil, errors.E(op, err)
	}
	return c, nil
}

// Prove signs challenge||share_id with the prover's user private key.
func Prove(priv ed25519.PrivateKey, challenge []byte, shareID veilnet.ShareID) []byte {
	msg := append(append([]byte(nil), challenge...), []byte(shareID)...)
	return ed25519.Sign(priv, msg)
}

// VerifyPrivateProof checks a Prove signature against the claimed
// public key. Callers loop it over candidate keys or, more commonly,
// call Verify, which also checks commitment membership.
func VerifyPrivateProof(shareID veilnet.ShareID, challenge, sig []byte, pub ed25519.PublicKey) error {
	const op = "access.VerifyPrivateProof"
	msg := append(append([]byte(nil), challenge...), []byte(shareID)...)
	if !ed25519.Verify(pub, msg, sig) {
		return errors.E(op, errors.SignatureInvalid)
	}
	return nil
}
