package obfuscate

import (
	"crypto/rand"
	"strings"

	"veilnet.io/errors"
	"veilnet.io/veilnet"
)

const messageIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// messageIDDomain is deliberately chosen to blend with common Usenet
// posting tools. No field is keyed to plaintext.
const messageIDDomain = "ngPost.com"

// NewMessageID mints a fresh Message-ID of the form
// "<16-char-random@ngPost.com>". Collisions are mitigated by the 80
// bits of entropy plus server-side uniqueness.
func NewMessageID() (veilnet.MessageID, error) {
	const op = "obfuscate.NewMessageID"
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.E(op, err)
	}
	var b strings.Builder
	b.Grow(16)
	for i := 0; i < 16; i++ {
		b.WriteByte(messageIDAlphabet[int(raw[i])%len(messageIDAlphabet)])
	}
	return veilnet.MessageID("<" + b.String() + "@" + messageIDDomain + ">"), nil
}
