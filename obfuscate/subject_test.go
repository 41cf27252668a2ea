package obfuscate

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"veilnet.io/veilnet"
)

func TestInternalSubjectDeterministic(t *testing.T) {
	key := []byte("folder-private-key-material")
	a := InternalSubject(veilnet.FolderID("folder-1"), 3, 7, key)
	b := InternalSubject(veilnet.FolderID("folder-1"), 3, 7, key)
	require.Equal(t, a, b)
	require.Len(t, a, 64)

	c := InternalSubject(veilnet.FolderID("folder-1"), 3, 8, key)
	require.NotEqual(t, a, c)
}

var hexRE = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestInternalSubjectIsHex(t *testing.T) {
	s := InternalSubject(veilnet.FolderID("f"), 1, 0, []byte("k"))
	require.True(t, hexRE.MatchString(s))
}

func TestUsenetSubjectShapeAndUniqueness(t *testing.T) {
	re := regexp.MustCompile(`^[A-Z2-7]{20}$`)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		s, err := NewUsenetSubject()
		require.NoError(t, err)
		require.Len(t, s, 20)
		require.True(t, re.MatchString(s), "subject %q not in expected alphabet", s)
		require.False(t, seen[s], "duplicate subject generated")
		seen[s] = true
	}
}

func TestMessageIDFormat(t *testing.T) {
	re := regexp.MustCompile(`^<[a-z0-9]{16}@ngPost\.com>$`)
	for i := 0; i < 50; i++ {
		id, err := NewMessageID()
		require.NoError(t, err)
		require.True(t, re.MatchString(string(id)), "message id %q malformed", id)
	}
}
