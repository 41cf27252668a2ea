// Package segment implements the segment processor: fixed-size slicing
// of large files, small-file packing into a shared pack group, and
// redundancy-copy derivation.
package segment

import (
	"veilnet.io/crypto"
	"veilnet.io/errors"
	"veilnet.io/veilnet"
)

// Slice produces the ceil(size/segSize) fixed-size segment descriptors
// for a file whose full plaintext is held in data. Every segment is
// exactly segSize bytes except the last, which carries the remainder.
func Slice(fileID veilnet.FileID, data []byte, segSize int) ([]veilnet.Segment, error) {
	const op = "segment.Slice"
	if segSize <= 0 {
		return nil, errors.E(op, errors.SegmentOversize, errors.Str("non-positive segment size"))
	}
	if len(data) == 0 {
		return nil, nil
	}

	n := (len(data) + segSize - 1) / segSize
	segs := make([]veilnet.Segment, n)
	for i := 0; i < n; i++ {
		start := i * segSize
		end := start + segSize
		if end > len(data) {
			end = len(data)
		}
		slice := data[start:end]
		segs[i] = veilnet.Segment{
			Ref:          veilnet.SegmentRef{FileID: fileID},
			SegmentIndex: i,
			PlainOffset:  int64(start),
			PlainLength:  int64(len(slice)),
			SHA256:       crypto.SHA256(slice),
			State:        veilnet.SegmentPending,
		}
	}
	return segs, nil
}

// SliceBounds returns the (offset, length) of the i'th segment of a file
// of the given total size, without touching the data itself.
func SliceBounds(size int64, segSize int, index int) (offset, length int64) {
	offset = int64(index) * int64(segSize)
	length = int64(segSize)
	if offset+length > size {
		length = size - offset
	}
	if length < 0 {
		length = 0
	}
	return offset, length
}

// Count returns ceil(size/segSize), the number of fixed-size segments a
// file of the given size slices into (minimum 1 for a non-empty file).
func Count(size int64, segSize int) int {
	if size <= 0 {
		return 0
	}
	return int((size + int64(segSize) - 1) / int64(segSize))
}
