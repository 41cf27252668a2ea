package coordinator

import (
	"crypto/ed25519"

	"veilnet.io/crypto"
	"veilnet.io/errors"
	"veilnet.io/identity"
	"veilnet.io/veilnet"
)

// folderKeys bundles a folder's unwrapped signing key and derived
// content key for the duration of one workflow call; it is never
// persisted and is discarded when the call returns.
type folderKeys struct {
	signPriv   ed25519.PrivateKey
	contentKey []byte // AES-256 key for segment encryption and redundancy derivation.
}

// unwrapFolderKeys unwraps folder's Ed25519 private key under owner's
// storage key and derives the folder's symmetric content key from it.
//
// The signing key is used for signing and proof-of-knowledge alone; a
// distinct AES-256 content key is derived from it via HMAC-SHA256 with
// a fixed context string, splitting one secret into independent
// per-purpose keys. Anyone who can unwrap the signing key (the folder
// owner) can also compute the content key; no new secret material is
// introduced.
func unwrapFolderKeys(folder *veilnet.Folder, owner *veilnet.User, ownerSecret []byte) (*folderKeys, error) {
	const op = "coordinator.unwrapFolderKeys"
	priv, err := identity.UnwrapFolderKey(folder, owner, ownerSecret)
	if err != nil {
		return nil, errors.E(op, err)
	}
	contentKey := crypto.HMACSHA256(priv, []byte("veilnet-content-key"))[:crypto.KeySize]
	return &folderKeys{signPriv: priv, contentKey: contentKey}, nil
}
