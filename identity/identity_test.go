package identity

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func pub(priv ed25519.PrivateKey) []byte {
	return []byte(priv.Public().(ed25519.PublicKey))
}

func TestNewUserWrapUnwrapRoundTrip(t *testing.T) {
	secret := []byte("correct horse battery staple")
	u, err := NewUser(secret)
	require.NoError(t, err)
	require.Len(t, string(u.ID), 64)

	priv, err := UnwrapUserKey(u, secret)
	require.NoError(t, err)
	require.True(t, bytes.Equal(u.PublicKey, pub(priv)))
}

func TestUnwrapUserKeyWrongSecretFails(t *testing.T) {
	u, err := NewUser([]byte("secret-a"))
	require.NoError(t, err)

	_, err = UnwrapUserKey(u, []byte("secret-b"))
	require.Error(t, err)
}

func TestNewFolderWrapUnwrapRoundTrip(t *testing.T) {
	secret := []byte("owner-secret")
	owner, err := NewUser(secret)
	require.NoError(t, err)

	f, err := NewFolder(owner.ID, "/tmp/t1", owner, secret)
	require.NoError(t, err)
	require.Len(t, string(f.ID), 64)
	require.NotEqual(t, string(owner.PublicKey), string(f.PublicKey))

	priv, err := UnwrapFolderKey(f, owner, secret)
	require.NoError(t, err)
	require.True(t, bytes.Equal(f.PublicKey, pub(priv)))
}

func TestTwoUsersGetDistinctIDs(t *testing.T) {
	u1, err := NewUser([]byte("s1"))
	require.NoError(t, err)
	u2, err := NewUser([]byte("s2"))
	require.NoError(t, err)
	require.NotEqual(t, u1.ID, u2.ID)
}
