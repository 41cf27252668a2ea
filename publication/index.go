// Package publication implements the publication manager: build a
// plaintext index of a folder snapshot, encrypt it under a per-share
// key, mint a share ID, and persist the publication row. The index
// codec is a flat uvarint length-prefixed field encoding.
package publication

import (
	"encoding/binary"

	"veilnet.io/errors"
	"veilnet.io/veilnet"
)

// FileEntry is one file's metadata plus its ordered segment descriptor
// list, the unit the plaintext index enumerates.
type FileEntry struct {
	FileID   veilnet.FileID
	RelPath  string
	Size     int64
	SHA256   [32]byte
	Segments []SegmentEntry
}

// SegmentEntry is one segment's retrieval descriptor: enough to fetch,
// verify, and place its bytes during reassembly. Copies lists every
// posted redundancy copy of this segment in the order they should be
// tried on miss or hash mismatch.
//
// Packed marks a segment shared by several small files: SHA256 verifies
// the whole fetched pack group article, and PackOffset/PackLength name
// this file's own sub-range inside that decrypted buffer (distinct from
// Offset/Length, which always place this file's bytes in the
// destination sink). A non-packed entry leaves PackOffset/PackLength
// zero and Offset/Length describe both the file-local write position
// and the fetched segment's full extent, as before.
type SegmentEntry struct {
	SegmentIndex int
	Offset       int64
	Length       int64
	SHA256       [32]byte
	Copies       []CopyEntry
	Packed       bool
	PackOffset   int64
	PackLength   int64
}

// CopyEntry names one redundancy copy's wire identity.
type CopyEntry struct {
	RedundancyCopy int
	MessageID      veilnet.MessageID
}

// Index is the plaintext structure encrypted into a Publication's
// EncryptedIndex blob.
//
// ContentKey is the folder's symmetric content key (coordinator/keys.go's
// folderKeys.contentKey) that every posted segment body was actually
// encrypted under; it is never equal to the share's own access-level
// key (shareKey), so it must travel inside the index itself for a
// resolved share to be decryptable. Carrying it here is safe: the
// whole Index is only ever exposed already sealed under shareKey via
// AES-GCM, so ContentKey never exists in the clear outside the owner's
// and an authorized reader's process.
type Index struct {
	FolderID      veilnet.FolderID
	FolderVersion int64
	ContentKey    []byte
	Files         []FileEntry
}

// Marshal encodes idx as a flat sequence of uvarint-length-prefixed
// fields rather than reaching for a generic serialization library:
// the format is small, append-only, and has no schema evolution
// requirements beyond what this package itself controls, which bounds
// parse cost and rules out ambiguous shapes.
func Marshal(idx *Index) []byte {
	var b []byte
	b = appendString(b, string(idx.FolderID))
	b = appendVarint(b, idx.FolderVersion)
	b = appendString(b, string(idx.ContentKey))
	b = appendVarint(b, int64(len(idx.Files)))
	for _, f := range idx.Files {
		b = appendString(b, string(f.FileID))
		b = appendString(b, f.RelPath)
		b = appendVarint(b, f.Size)
		b = append(b, f.SHA256[:]...)
		b = appendVarint(b, int64(len(f.Segments)))
		for _, s := range f.Segments {
			b = appendVarint(b, int64(s.SegmentIndex))
			b = appendVarint(b, s.Offset)
			b = appendVarint(b, s.Length)
			b = append(b, s.SHA256[:]...)
			if s.Packed {
				b = append(b, 1)
			} else {
				b = append(b, 0)
			}
			b = appendVarint(b, s.PackOffset)
			b = appendVarint(b, s.PackLength)
			b = appendVarint(b, int64(len(s.Copies)))
			for _, c := range s.Copies {
				b = appendVarint(b, int64(c.RedundancyCopy))
				b = appendString(b, string(c.MessageID))
			}
		}
	}
	return b
}

// Unmarshal decodes an Index previously produced by Marshal.
func Unmarshal(b []byte) (*Index, error) {
	const op = "publication.Unmarshal"
	idx := &Index{}

	folderID, b, err := getString(b)
	if err != nil {
		return nil, errors.E(op, err)
	}
	idx.FolderID = veilnet.FolderID(folderID)

	version, b, err := getVarint(b)
	if err != nil {
		return nil, errors.E(op, err)
	}
	idx.FolderVersion = version

	contentKey, b, err := getBytes(b)
	if err != nil {
		return nil, errors.E(op, err)
	}
	if len(contentKey) > 0 {
		idx.ContentKey = append([]byte(nil), contentKey...)
	}

	nFiles, b, err := getVarint(b)
	if err != nil {
		return nil, errors.E(op, err)
	}

	idx.Files = make([]FileEntry, 0, nFiles)
	for i := int64(0); i < nFiles; i++ {
		f, rest, err := unmarshalFileEntry(b)
		if err != nil {
			return nil, errors.E(op, err)
		}
		b = rest
		idx.Files = append(idx.Files, f)
	}
	return idx, nil
}

func unmarshalFileEntry(b []byte) (FileEntry, []byte, error) {
	var f FileEntry

	fileID, b, err := getString(b)
	if err != nil {
		return f, nil, err
	}
	f.FileID = veilnet.FileID(fileID)

	relPath, b, err := getString(b)
	if err != nil {
		return f, nil, err
	}
	f.RelPath = relPath

	size, b, err := getVarint(b)
	if err != nil {
		return f, nil, err
	}
	f.Size = size

	if len(b) < 32 {
		return f, nil, errors.Str("truncated index: file sha256")
	}
	copy(f.SHA256[:], b[:32])
	b = b[32:]

	nSegs, b, err := getVarint(b)
	if err != nil {
		return f, nil, err
	}

	f.Segments = make([]SegmentEntry, 0, nSegs)
	for j := int64(0); j < nSegs; j++ {
		s, rest, err := unmarshalSegmentEntry(b)
		if err != nil {
			return f, nil, err
		}
		b = rest
		f.Segments = append(f.Segments, s)
	}
	return f, b, nil
}

func unmarshalSegmentEntry(b []byte) (SegmentEntry, []byte, error) {
	var s SegmentEntry

	v, b, err := getVarint(b)
	if err != nil {
		return s, nil, err
	}
	s.SegmentIndex = int(v)

	v, b, err = getVarint(b)
	if err != nil {
		return s, nil, err
	}
	s.Offset = v

	v, b, err = getVarint(b)
	if err != nil {
		return s, nil, err
	}
	s.Length = v

	if len(b) < 32 {
		return s, nil, errors.Str("truncated index: segment sha256")
	}
	copy(s.SHA256[:], b[:32])
	b = b[32:]

	if len(b) < 1 {
		return s, nil, errors.Str("truncated index: segment packed flag")
	}
	s.Packed = b[0] != 0
	b = b[1:]

	v, b, err = getVarint(b)
	if err != nil {
		return s, nil, err
	}
	s.PackOffset = v

	v, b, err = getVarint(b)
	if err != nil {
		return s, nil, err
	}
	s.PackLength = v

	nCopies, b, err := getVarint(b)
	if err != nil {
		return s, nil, err
	}

	s.Copies = make([]CopyEntry, 0, nCopies)
	for k := int64(0); k < nCopies; k++ {
		var c CopyEntry
		v, b2, err := getVarint(b)
		if err != nil {
			return s, nil, err
		}
		c.RedundancyCopy = int(v)

		msgID, b3, err := getString(b2)
		if err != nil {
			return s, nil, err
		}
		c.MessageID = veilnet.MessageID(msgID)
		b = b3
		s.Copies = append(s.Copies, c)
	}
	return s, b, nil
}

func appendString(b []byte, s string) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(s)))
	b = append(b, tmp[:n]...)
	return append(b, s...)
}

func appendVarint(b []byte, v int64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	return append(b, tmp[:n]...)
}

func getString(b []byte) (string, []byte, error) {
	data, rest, err := getBytes(b)
	if err != nil {
		return "", nil, err
	}
	return string(data), rest, nil
}

func getBytes(b []byte) ([]byte, []byte, error) {
	u, n := binary.Uvarint(b)
	if n <= 0 || uint64(len(b)-n) < u {
		return nil, nil, errors.Str("truncated index: bad length prefix")
	}
	return b[n : n+int(u)], b[n+int(u):], nil
}

func getVarint(b []byte) (int64, []byte, error) {
	v, n := binary.Varint(b)
	if n <= 0 {
		return 0, nil, errors.Str("truncated index: bad varint")
	}
	return v, b[n:], nil
}
