package access

import "veilnet.io/crypto"

// DeriveProtectedKey computes the PROTECTED share symmetric key:
// scrypt(password, salt) with the share's stored salt and cost
// parameters. An incorrect password yields the wrong key, which the
// caller discovers only when the GCM tag check on the encrypted index
// fails; this function itself never validates the password.
func DeriveProtectedKey(password string, salt []byte, n, r, p int) ([]byte, error) {
	return crypto.DeriveScrypt([]byte(password), salt, n, r, p, crypto.KeySize)
}
