// Package identity manages permanent user identities and per-folder
// signing keys: minting 64-hex random IDs, generating Ed25519
// keypairs, and wrapping private keys at rest under a key derived from
// the owning secret. Private keys never leave this package in
// cleartext except through an explicit unwrap call.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"

	"veilnet.io/crypto"
	"veilnet.io/errors"
	"veilnet.io/veilnet"
)

// newID returns a fresh 64-hex random identifier (32 random bytes).
func newID() (string, error) {
	const op = "identity.newID"
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.E(op, err)
	}
	return hex.EncodeToString(raw), nil
}

// NewUser mints a new permanent user identity: a 64-hex user ID, an
// Ed25519 keypair, and the private key wrapped under a storage key
// derived from userSecret via Scrypt. The caller is responsible for
// persisting the returned User and must never attempt to regenerate
// it; loss of userSecret is loss of identity.
func NewUser(userSecret []byte) (*veilnet.User, error) {
	const op = "identity.NewUser"
	id, err := newID()
	if err != nil {
		return nil, errors.E(op, err)
	}
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, errors.E(op, err)
	}
	salt, err := crypto.NewSalt(crypto.DefaultSaltSize)
	if err != nil {
		return nil, errors.E(op, err)
	}
	storageKey, err := crypto.DeriveScrypt(userSecret, salt, 0, 0, 0, crypto.KeySize)
	if err != nil {
		return nil, errors.E(op, err)
	}
	sealed, err := crypto.Encrypt(kp.Private, storageKey)
	if err != nil {
		return nil, errors.E(op, errors.KeyWrapFailure, err)
	}
	u := &veilnet.User{
		ID:             veilnet.UserID(id),
		PublicKey:      kp.Public,
		WrappedPrivate: marshalSealed(sealed),
		StorageSalt:    salt,
	}
	return u, nil
}

// UnwrapUserKey recovers a user's Ed25519 private key from the wrapped
// form stored alongside the user record, given the same userSecret
// used at creation.
func UnwrapUserKey(u *veilnet.User, userSecret []byte) (ed25519.PrivateKey, error) {
	const op = "identity.UnwrapUserKey"
	storageKey, err := crypto.DeriveScrypt(userSecret, u.StorageSalt, 0, 0, 0, crypto.KeySize)
	if err != nil {
		return nil, errors.E(op, err)
	}
	sealed, err := unmarshalSealed(u.WrappedPrivate)
	if err != nil {
		return nil, errors.E(op, errors.KeyWrapFailure, err)
	}
	priv, err := crypto.Decrypt(sealed, storageKey)
	if err != nil {
		return nil, errors.E(op, errors.KeyWrapFailure, err)
	}
	return ed25519.PrivateKey(priv), nil
}

// NewFolder mints a new folder identity: a 64-hex folder ID and a
// signing keypair distinct from the owner's, wrapped under the
// owner's storage key (derived again from ownerSecret, never persisted
// in cleartext). Folder keys are generated once and never rotated;
// rotation requires a new folder.
func NewFolder(ownerID veilnet.UserID, rootPath string, owner *veilnet.User, ownerSecret []byte) (*veilnet.Folder, error) {
	const op = "identity.NewFolder"
	id, err := newID()
	if err != nil {
		return nil, errors.E(op, err)
	}
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, errors.E(op, err)
	}
	storageKey, err := crypto.DeriveScrypt(ownerSecret, owner.StorageSalt, 0, 0, 0, crypto.KeySize)
	if err != nil {
		return nil, errors.E(op, err)
	}
	sealed, err := crypto.Encrypt(kp.Private, storageKey)
	if err != nil {
		return nil, errors.E(op, errors.KeyWrapFailure, err)
	}
	return &veilnet.Folder{
		ID:             veilnet.FolderID(id),
		OwnerID:        ownerID,
		RootPath:       rootPath,
		PublicKey:      kp.Public,
		WrappedPrivate: marshalSealed(sealed),
	}, nil
}

// UnwrapFolderKey recovers a folder's Ed25519 private key, given the
// owning user's record and secret.
func UnwrapFolderKey(f *veilnet.Folder, owner *veilnet.User, ownerSecret []byte) (ed25519.PrivateKey, error) {
	const op = "identity.UnwrapFolderKey"
	storageKey, err := crypto.DeriveScrypt(ownerSecret, owner.StorageSalt, 0, 0, 0, crypto.KeySize)
	if err != nil {
		return nil, errors.E(op, err)
	}
	sealed, err := unmarshalSealed(f.WrappedPrivate)
	if err != nil {
		return nil, errors.E(op, errors.KeyWrapFailure, err)
	}
	priv, err := crypto.Decrypt(sealed, storageKey)
	if err != nil {
		return nil, errors.E(op, errors.KeyWrapFailure, err)
	}
	return ed25519.PrivateKey(priv), nil
}

// marshalSealed encodes a Sealed value as nonce||ciphertext for
// storage in a single bytes column.
func marshalSealed(s *crypto.Sealed) []byte {
	out := make([]byte, 0, len(s.Nonce)+len(s.Ciphertext))
	out = append(out, s.Nonce[:]...)
	out = append(out, s.Ciphertext...)
	return out
}

func unmarshalSealed(b []byte) (*crypto.Sealed, error) {
	if len(b) < crypto.NonceSize {
		return nil, errors.Str("wrapped key too short")
	}
	s := &crypto.Sealed{}
	copy(s.Nonce[:], b[:crypto.NonceSize])
	s.Ciphertext = b[crypto.NonceSize:]
	return s, nil
}
