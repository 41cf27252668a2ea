// Package obfuscate implements the two-layer subject scheme and
// Message-ID minting: a deterministic, owner-only internal subject and
// a uniformly random, wire-visible usenet subject with no derivable
// relationship between them. The owner's index is the only linkage.
package obfuscate

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"

	"veilnet.io/errors"
	"veilnet.io/veilnet"
)

// usenetEncoding is the alphabet used for usenet subjects and share
// IDs: uppercase letters and digits 2-7 (RFC 4648 base32, no padding).
var usenetEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// InternalSubject derives the owner-visible deterministic subject for
// a segment: sha256(folder_id || version || segment_index || folder_priv_key),
// rendered as 64 hex characters.
func InternalSubject(folderID veilnet.FolderID, version int64, segmentIndex int, folderPrivKey []byte) string {
	h := sha256.New()
	h.Write([]byte(folderID))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(version))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(segmentIndex))
	h.Write(buf[:])
	h.Write(folderPrivKey)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)
}

// NewUsenetSubject returns a fresh, uniformly random 20-character
// wire-visible subject with no keyed relationship to any plaintext.
func NewUsenetSubject() (string, error) {
	const op = "obfuscate.NewUsenetSubject"
	raw := make([]byte, 12) // 12 bytes -> 20 base32 chars (ceil(12*8/5)).
	if _, err := rand.Read(raw); err != nil {
		return "", errors.E(op, err)
	}
	s := usenetEncoding.EncodeToString(raw)
	if len(s) < 20 {
		return "", errors.E(op, errors.Errorf("short subject encoding: %d chars", len(s)))
	}
	return s[:20], nil
}
