package crypto

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"veilnet.io/errors"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, KeySize)
	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	sealed, err := Encrypt(plaintext, key)
	require.NoError(t, err)

	got, err := Decrypt(sealed, key)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, KeySize)
	sealed, err := Encrypt([]byte("hello"), key)
	require.NoError(t, err)

	sealed.Ciphertext[0] ^= 0xFF
	_, err = Decrypt(sealed, key)
	require.Error(t, err)
	require.True(t, errors.Is(errors.GCMTagFailure, err))
}

func TestDecryptTamperedTagFails(t *testing.T) {
	key := bytes.Repeat([]byte{0x02}, KeySize)
	sealed, err := Encrypt([]byte("hello world"), key)
	require.NoError(t, err)

	sealed.Ciphertext[len(sealed.Ciphertext)-1] ^= 0xFF
	_, err = Decrypt(sealed, key)
	require.Error(t, err)
}

func TestDecryptWrongKeyFails(t *testing.T) {
	key := bytes.Repeat([]byte{0x03}, KeySize)
	other := bytes.Repeat([]byte{0x04}, KeySize)
	sealed, err := Encrypt([]byte("secret"), key)
	require.NoError(t, err)

	_, err = Decrypt(sealed, other)
	require.Error(t, err)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("challenge||shareid")
	sig := Sign(kp.Private, msg)
	require.NoError(t, Verify(kp.Public, msg, sig))

	sig[0] ^= 0xFF
	require.Error(t, Verify(kp.Public, msg, sig))
}

func TestDeriveScryptDeterministic(t *testing.T) {
	salt, err := NewSalt(DefaultSaltSize)
	require.NoError(t, err)

	k1, err := DeriveScrypt([]byte("correct horse"), salt, 0, 0, 0, 0)
	require.NoError(t, err)
	k2, err := DeriveScrypt([]byte("correct horse"), salt, 0, 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	k3, err := DeriveScrypt([]byte("correct house"), salt, 0, 0, 0, 0)
	require.NoError(t, err)
	require.NotEqual(t, k1, k3)
}

func TestDerivePBKDF2Deterministic(t *testing.T) {
	salt := []byte("a-fixed-salt-16b")
	k1 := DerivePBKDF2([]byte("pw"), salt, 0, 0)
	k2 := DerivePBKDF2([]byte("pw"), salt, 0, 0)
	require.Equal(t, k1, k2)
	require.Len(t, k1, KeySize)
}

func TestSHA256StreamMatchesSHA256(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 100_000)
	direct := SHA256(data)

	sum, n, err := SHA256Stream(strings.NewReader(string(data)), 4096)
	require.NoError(t, err)
	require.EqualValues(t, len(data), n)
	require.Equal(t, direct, sum)
}

func TestHMACSHA256(t *testing.T) {
	mac1 := HMACSHA256([]byte("key"), []byte("message"))
	mac2 := HMACSHA256([]byte("key"), []byte("message"))
	require.True(t, HMACEqual(mac1, mac2))

	mac3 := HMACSHA256([]byte("key"), []byte("message2"))
	require.False(t, HMACEqual(mac1, mac3))
}
