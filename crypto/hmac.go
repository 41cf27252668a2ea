package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"hash"
	"io"
)

// sha256New adapts crypto/sha256.New to the hash.Hash-returning func
// signature golang.org/x/crypto/pbkdf2.Key expects.
func sha256New() hash.Hash { return sha256.New() }

// SHA256 hashes a byte slice in one call.
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// SHA256Stream hashes r's contents by streaming fixed-size chunks,
// so the caller never needs to hold the whole file in memory.
// chunkSize <= 0 selects the 1 MiB default.
func SHA256Stream(r io.Reader, chunkSize int) ([32]byte, int64, error) {
	if chunkSize <= 0 {
		chunkSize = 1 << 20
	}
	h := sha256.New()
	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			total += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			var zero [32]byte
			return zero, total, err
		}
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum, total, nil
}

// HMACSHA256 computes HMAC-SHA256(key, message).
func HMACSHA256(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// HMACEqual reports whether two HMAC tags are equal using a
// constant-time comparison.
func HMACEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}
