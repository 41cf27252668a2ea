package segment

import (
	"crypto/aes"
	"crypto/cipher"

	"veilnet.io/crypto"
	"veilnet.io/errors"
	"veilnet.io/obfuscate"
	"veilnet.io/veilnet"
)

// Copy is one redundancy copy of a segment: its own byte stream, its
// own subject/Message-ID pairing (minted by the caller at post time),
// and the copy index (0 is the base copy).
type Copy struct {
	RedundancyCopy int
	Plaintext      []byte
}

// Redundancy derives n-1 additional byte-distinct copies of base,
// beyond the base copy itself. Identical reposts can be de-duplicated
// by upstream carriers, so each copy is produced by XORing base
// against an AES-CTR keystream seeded with a distinct per-copy key
// derived from folderKey, a pure and reversible transform of the
// plaintext rather than a random re-roll:
// Reverse(Derive(base, folderKey, i), folderKey, i) == base.
//
// n must be >= 1; Redundancy(base, key, 1) returns just the base copy.
func Redundancy(base []byte, folderKey []byte, n int) ([]Copy, error) {
	const op = "segment.Redundancy"
	if n < 1 {
		return nil, errors.E(op, errors.SegmentOversize, errors.Str("redundancy level must be >= 1"))
	}

	copies := make([]Copy, n)
	copies[0] = Copy{RedundancyCopy: 0, Plaintext: base}
	for i := 1; i < n; i++ {
		derived, err := transformCopy(base, folderKey, i)
		if err != nil {
			return nil, errors.E(op, err)
		}
		copies[i] = Copy{RedundancyCopy: i, Plaintext: derived}
	}
	return copies, nil
}

// ReverseRedundancy undoes transformCopy for a retrieved redundancy
// copy, recovering the original segment plaintext. Copy 0 needs no
// reversal and is returned unchanged.
func ReverseRedundancy(data []byte, folderKey []byte, copyIndex int) ([]byte, error) {
	const op = "segment.ReverseRedundancy"
	if copyIndex == 0 {
		return data, nil
	}
	out, err := transformCopy(data, folderKey, copyIndex)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return out, nil
}

// transformCopy is its own inverse: AES-CTR XOR keystreams are
// involutions given the same (key, nonce).
func transformCopy(data []byte, folderKey []byte, copyIndex int) ([]byte, error) {
	key := copyKey(folderKey, copyIndex)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	var nonce [aes.BlockSize]byte // Deterministic per (folderKey, copyIndex): safe because the keystream itself is unique to that pair.
	stream := cipher.NewCTR(block, nonce[:])
	out := make([]byte, len(data))
	stream.XORKeyStream(out, data)
	return out, nil
}

func copyKey(folderKey []byte, copyIndex int) [32]byte {
	return crypto.SHA256(append(append([]byte("veilnet-redundancy:"), folderKey...), byte(copyIndex)))
}

// ReassignSubjects mints a fresh usenet_subject for every segment in
// segs, so each redundancy copy gets its own wire-visible identity
// alongside the Message-ID minted at post time.
func ReassignSubjects(segs []veilnet.Segment) error {
	const op = "segment.ReassignSubjects"
	for i := range segs {
		subj, err := obfuscate.NewUsenetSubject()
		if err != nil {
			return errors.E(op, err)
		}
		segs[i].UsenetSubject = subj
	}
	return nil
}
