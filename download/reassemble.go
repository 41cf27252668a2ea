package download

import (
	"crypto/sha256"
	"hash"
)

// reassemblyVerifier hashes a file's plaintext in segment-index order
// (callers call add in the same order as job.Segments) and compares the
// full-file SHA-256 against the expected hash at the end. The hash is
// streamed so the file is never materialized in memory.
type reassemblyVerifier struct {
	expected [32]byte
	h        hash.Hash
}

func newReassemblyVerifier(expected [32]byte) *reassemblyVerifier {
	return &reassemblyVerifier{expected: expected, h: sha256.New()}
}

func (v *reassemblyVerifier) add(plaintext []byte) {
	v.h.Write(plaintext)
}

func (v *reassemblyVerifier) matches() bool {
	var sum [32]byte
	copy(sum[:], v.h.Sum(nil))
	return sum == v.expected
}
