// Package access implements the three-tier share gating: PUBLIC (key
// derivable from the share ID alone), PRIVATE (Schnorr-style proof of
// private-key possession against an authorized commitment set), and
// PROTECTED (password-derived key).
package access

import (
	"crypto/ed25519"

	"veilnet.io/crypto"
	"veilnet.io/errors"
	"veilnet.io/veilnet"
)

// Verify checks whether a requester satisfies pub's access policy,
// given the access-level-specific proof material the caller gathered
// out of band. It never returns the share's symmetric key: callers
// derive or unwrap that separately via this package's DerivePublicKey,
// DeriveProtectedKey, or UnwrapPrivateKey.
func Verify(pub *veilnet.Publication, proof Proof) error {
	const op = "access.Verify"
	switch pub.AccessLevel {
	case veilnet.Public:
		return nil
	case veilnet.Private:
		if proof.PrivateProof == nil {
			return errors.E(op, errors.PermissionDenied, errors.Str("no proof of key possession supplied"))
		}
		if VerifyPrivateProof(pub.ShareID, proof.PrivateProof.Challenge, proof.PrivateProof.Signature, proof.PrivateProof.PublicKey) != nil {
			return errors.E(op, errors.PermissionDenied, errors.Str("signature does not verify"))
		}
		if !isAuthorized(pub.AuthorizedCommitments, proof.PrivateProof.PublicKey, pub.ShareID) {
			return errors.E(op, errors.PermissionDenied, errors.Str("public key not in authorized set"))
		}
		return nil
	case veilnet.Protected:
		if proof.Password == "" {
			return errors.E(op, errors.PermissionDenied, errors.Str("password required"))
		}
		return nil // AES-GCM tag check on the index itself is the actual gate; see protected.go.
	default:
		return errors.E(op, errors.Other, errors.Str("unknown access level"))
	}
}

// Proof bundles whatever credential material the requester supplied;
// only the field matching pub.AccessLevel is consulted.
type Proof struct {
	PrivateProof *PrivateProof
	Password     string
}

// PrivateProof is the Schnorr-style challenge-response artifact for a
// PRIVATE share.
type PrivateProof struct {
	Challenge []byte
	Signature []byte
	PublicKey ed25519.PublicKey
}

func isAuthorized(commitments [][]byte, pub ed25519.PublicKey, shareID veilnet.ShareID) bool {
	want := Commitment(pub, shareID)
	for _, c := range commitments {
		if crypto.HMACEqual(c, want) {
			return true
		}
	}
	return false
}
