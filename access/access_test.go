package access

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"veilnet.io/veilnet"
)

func TestPublicAccessAlwaysGrants(t *testing.T) {
	pub := &veilnet.Publication{AccessLevel: veilnet.Public}
	require.NoError(t, Verify(pub, Proof{}))
}

func TestPrivateAccessGrantsForAuthorizedUser(t *testing.T) {
	userPub, userPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	shareID := veilnet.ShareID("MRFE3BX25XTF5CH6FPP2PXDL")

	pub := &veilnet.Publication{
		AccessLevel:           veilnet.Private,
		ShareID:               shareID,
		AuthorizedCommitments: [][]byte{Commitment(userPub, shareID)},
	}

	challenge, err := NewChallenge()
	require.NoError(t, err)
	sig := Prove(userPriv, challenge, shareID)

	err = Verify(pub, Proof{PrivateProof: &PrivateProof{Challenge: challenge, Signature: sig, PublicKey: userPub}})
	require.NoError(t, err)
}

func TestPrivateAccessDeniesUnauthorizedUser(t *testing.T) {
	authorizedPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	strangerPub, strangerPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	shareID := veilnet.ShareID("MRFE3BX25XTF5CH6FPP2PXDL")

	pub := &veilnet.Publication{
		AccessLevel:           veilnet.Private,
		ShareID:               shareID,
		AuthorizedCommitments: [][]byte{Commitment(authorizedPub, shareID)},
	}

	challenge, err := NewChallenge()
	require.NoError(t, err)
	sig := Prove(strangerPriv, challenge, shareID)

	err = Verify(pub, Proof{PrivateProof: &PrivateProof{Challenge: challenge, Signature: sig, PublicKey: strangerPub}})
	require.Error(t, err)
}

func TestPrivateAccessDeniesForgedSignature(t *testing.T) {
	userPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	shareID := veilnet.ShareID("MRFE3BX25XTF5CH6FPP2PXDL")
	pub := &veilnet.Publication{
		AccessLevel:           veilnet.Private,
		ShareID:               shareID,
		AuthorizedCommitments: [][]byte{Commitment(userPub, shareID)},
	}
	challenge, err := NewChallenge()
	require.NoError(t, err)

	err = Verify(pub, Proof{PrivateProof: &PrivateProof{Challenge: challenge, Signature: make([]byte, 64), PublicKey: userPub}})
	require.Error(t, err)
}

func TestDerivePublicKeyDeterministic(t *testing.T) {
	k1 := DerivePublicKey("SHARE1", "FOLDER1")
	k2 := DerivePublicKey("SHARE1", "FOLDER1")
	require.Equal(t, k1, k2)
	k3 := DerivePublicKey("SHARE2", "FOLDER1")
	require.NotEqual(t, k1, k3)
}

func TestDeriveProtectedKeyDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")
	k1, err := DeriveProtectedKey("hunter2", salt, 1024, 8, 1)
	require.NoError(t, err)
	k2, err := DeriveProtectedKey("hunter2", salt, 1024, 8, 1)
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	wrong, err := DeriveProtectedKey("wrongpass", salt, 1024, 8, 1)
	require.NoError(t, err)
	require.NotEqual(t, k1, wrong)
}

func TestWrapUnwrapPrivateKeyRoundTrip(t *testing.T) {
	userPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	folderKey := make([]byte, 32)
	shareKey := []byte("0123456789abcdef0123456789abcdef")

	wrapped, err := WrapPrivateKey(shareKey, folderKey, userPub)
	require.NoError(t, err)

	recovered, err := UnwrapPrivateKey(wrapped, folderKey, userPub)
	require.NoError(t, err)
	require.Equal(t, shareKey, recovered)
}

func TestUnwrapPrivateKeyWrongUserFails(t *testing.T) {
	userPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	folderKey := make([]byte, 32)
	shareKey := []byte("0123456789abcdef0123456789abcdef")

	wrapped, err := WrapPrivateKey(shareKey, folderKey, userPub)
	require.NoError(t, err)

	_, err = UnwrapPrivateKey(wrapped, folderKey, otherPub)
	require.Error(t, err)
}
