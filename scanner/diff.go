package scanner

import "veilnet.io/veilnet"

// Diff compares two sorted (by RelPath) sequences of ScannedFile and
// emits Added | Modified | Deleted | Unchanged events by comparing
// (path, sha256). Both slices must already be sorted lexicographically
// by RelPath (Scan's output is).
func Diff(prior, current []veilnet.ScannedFile) []veilnet.ChangeEvent {
	var events []veilnet.ChangeEvent
	i, j := 0, 0
	for i < len(prior) && j < len(current) {
		switch {
		case prior[i].RelPath < current[j].RelPath:
			events = append(events, veilnet.ChangeEvent{Kind: veilnet.Deleted, File: prior[i]})
			i++
		case prior[i].RelPath > current[j].RelPath:
			events = append(events, veilnet.ChangeEvent{Kind: veilnet.Added, File: current[j]})
			j++
		default:
			if prior[i].SHA256 == current[j].SHA256 {
				events = append(events, veilnet.ChangeEvent{Kind: veilnet.Unchanged, File: current[j]})
			} else {
				events = append(events, veilnet.ChangeEvent{Kind: veilnet.Modified, File: current[j]})
			}
			i++
			j++
		}
	}
	for ; i < len(prior); i++ {
		events = append(events, veilnet.ChangeEvent{Kind: veilnet.Deleted, File: prior[i]})
	}
	for ; j < len(current); j++ {
		events = append(events, veilnet.ChangeEvent{Kind: veilnet.Added, File: current[j]})
	}
	return events
}

// ChangeSet groups the change events produced by one re-index with the
// folder version they were recorded against. Nothing in this module
// builds a ChangeSet, and no call lists the historical versions of a
// path.
type ChangeSet struct {
	FolderID veilnet.FolderID
	Version  int64
	Events   []veilnet.ChangeEvent
}
