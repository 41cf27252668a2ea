package segment

import (
	"encoding/hex"
	"sort"
	"strconv"

	"veilnet.io/crypto"
	"veilnet.io/errors"
	"veilnet.io/veilnet"
)

// SmallFile is one candidate for packing: a file strictly smaller than
// the segment size, with its plaintext already in memory.
type SmallFile struct {
	FileID  veilnet.FileID
	RelPath string
	Data    []byte
}

// Pack groups small files into one or more PackGroups, each carrying a
// single segment whose bytes never exceed segSize: files accumulate in
// lexicographic order (by RelPath) until adding the next file would
// overflow, at which point the buffer flushes.
//
// Pack returns the groups in the order they were flushed, each paired
// with its single base segment (redundancy copies are derived
// separately by Redundancy). A file whose own size is >= segSize is
// rejected: it belongs to Slice, not Pack.
func Pack(folderID veilnet.FolderID, version int64, files []SmallFile, segSize int) ([]PackedGroup, error) {
	const op = "segment.Pack"
	if segSize <= 0 {
		return nil, errors.E(op, errors.SegmentOversize, errors.Str("non-positive segment size"))
	}

	sorted := make([]SmallFile, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RelPath < sorted[j].RelPath })

	var groups []PackedGroup
	var buf []byte
	var entries []veilnet.PackedEntry

	flush := func() {
		if len(buf) == 0 {
			return
		}
		id := newPackGroupID(folderID, version, len(groups))
		seg := veilnet.Segment{
			Ref:          veilnet.SegmentRef{PackGroupID: id},
			SegmentIndex: 0,
			PlainOffset:  0,
			PlainLength:  int64(len(buf)),
			SHA256:       crypto.SHA256(buf),
			State:        veilnet.SegmentPending,
		}
		groups = append(groups, PackedGroup{
			Group: veilnet.PackGroup{
				ID:       id,
				FolderID: folderID,
				Version:  version,
				Entries:  entries,
				Total:    int64(len(buf)),
			},
			Plaintext: append([]byte(nil), buf...),
			Segment:   seg,
		})
		buf = nil
		entries = nil
	}

	for _, f := range sorted {
		if len(f.Data) >= segSize {
			return nil, errors.E(op, errors.SegmentOversize, errors.Str("file is not a packing candidate: "+f.RelPath))
		}
		if len(buf)+len(f.Data) > segSize {
			flush()
		}
		entries = append(entries, veilnet.PackedEntry{
			FileID: f.FileID,
			Offset: int64(len(buf)),
			Length: int64(len(f.Data)),
		})
		buf = append(buf, f.Data...)
	}
	flush()

	return groups, nil
}

// PackedGroup bundles a flushed pack group's metadata with its combined
// plaintext and the single base segment describing it.
type PackedGroup struct {
	Group     veilnet.PackGroup
	Plaintext []byte
	Segment   veilnet.Segment
}

// Unpack extracts an individual small file's bytes from a pack group's
// reassembled plaintext, per its header entry.
func Unpack(plaintext []byte, entry veilnet.PackedEntry) ([]byte, error) {
	const op = "segment.Unpack"
	end := entry.Offset + entry.Length
	if entry.Offset < 0 || entry.Length < 0 || end > int64(len(plaintext)) {
		return nil, errors.E(op, errors.HashMismatch, errors.Str("pack entry out of bounds"))
	}
	return plaintext[entry.Offset:end], nil
}

func newPackGroupID(folderID veilnet.FolderID, version int64, ordinal int) veilnet.PackGroupID {
	key := string(folderID) + ":" + strconv.FormatInt(version, 10) + ":" + strconv.Itoa(ordinal)
	sum := crypto.SHA256([]byte(key))
	return veilnet.PackGroupID(hex.EncodeToString(sum[:]))
}
