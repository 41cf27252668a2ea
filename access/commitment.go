package access

import (
	"crypto/ed25519"

	"veilnet.io/crypto"
	"veilnet.io/veilnet"
)

// Commitment derives the opaque value stored in authorized_users for a
// PRIVATE share's grant list: a user's public key is never stored in
// plaintext alongside the share, only this binding of it to the share.
func Commitment(pub ed25519.PublicKey, shareID veilnet.ShareID) []byte {
	sum := crypto.SHA256(append(append([]byte(nil), pub...), []byte(shareID)...))
	return sum[:]
}
