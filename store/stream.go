package store

import (
	"context"
	"database/sql"
	"time"

	"veilnet.io/errors"
	"veilnet.io/veilnet"
)

// FileCursor lazily iterates file rows with O(1) memory, so a folder
// with millions of files never materializes as a result set. It does
// not run inside a Tx: streaming reads use their own connection and
// see a snapshot consistent for the lifetime of the cursor.
type FileCursor struct {
	rows *sql.Rows
}

// StreamFiles returns a cursor over the latest version of every file
// in folderID, ordered lexicographically by relative path, the order
// the scanner and segment processor both rely on.
func (s *Store) StreamFiles(ctx context.Context, folderID veilnet.FolderID) (*FileCursor, error) {
	const op = "store.StreamFiles"
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.file_id, f.folder_id, f.rel_path, f.version, f.size, f.sha256, f.mime_hint, f.mod_time, f.created_at
		FROM files f
		JOIN (
			SELECT folder_id, rel_path, MAX(version) AS max_version
			FROM files WHERE folder_id = ?
			GROUP BY folder_id, rel_path
		) latest ON f.folder_id = latest.folder_id AND f.rel_path = latest.rel_path AND f.version = latest.max_version
		ORDER BY f.rel_path ASC`, string(folderID))
	if err != nil {
		return nil, errors.E(op, err)
	}
	return &FileCursor{rows: rows}, nil
}

// StreamFilesAtVersion returns a cursor over the files comprising a
// specific folder snapshot (folderVersion), used by the publication
// manager and download engine to resolve an older publication without
// being affected by subsequent re-indexing.
func (s *Store) StreamFilesAtVersion(ctx context.Context, folderID veilnet.FolderID, maxVersion int64) (*FileCursor, error) {
	const op = "store.StreamFilesAtVersion"
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.file_id, f.folder_id, f.rel_path, f.version, f.size, f.sha256, f.mime_hint, f.mod_time, f.created_at
		FROM files f
		JOIN (
			SELECT folder_id, rel_path, MAX(version) AS max_version
			FROM files WHERE folder_id = ? AND version <= ?
			GROUP BY folder_id, rel_path
		) latest ON f.folder_id = latest.folder_id AND f.rel_path = latest.rel_path AND f.version = latest.max_version
		ORDER BY f.rel_path ASC`, string(folderID), maxVersion)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return &FileCursor{rows: rows}, nil
}

// Next advances the cursor, returning false when exhausted or on error
// (check Err after a false return).
func (c *FileCursor) Next() bool {
	return c.rows.Next()
}

// Scan decodes the current row into a veilnet.File.
func (c *FileCursor) Scan() (*veilnet.File, error) {
	const op = "store.FileCursor.Scan"
	f := &veilnet.File{}
	var fileID, folderID string
	var sha []byte
	var modTime, createdAt int64
	if err := c.rows.Scan(&fileID, &folderID, &f.RelPath, &f.Version, &f.Size, &sha, &f.MIMEHint, &modTime, &createdAt); err != nil {
		return nil, errors.E(op, err)
	}
	f.ID = veilnet.FileID(fileID)
	f.FolderID = veilnet.FolderID(folderID)
	copy(f.SHA256[:], sha)
	f.ModTime = time.Unix(modTime, 0).UTC()
	return f, nil
}

// Err returns any error encountered during iteration.
func (c *FileCursor) Err() error {
	return c.rows.Err()
}

// Close releases the cursor's underlying connection.
func (c *FileCursor) Close() error {
	return c.rows.Close()
}

// SegmentCursor lazily iterates segment rows for a file, in
// (segment_index, redundancy_copy) order.
type SegmentCursor struct {
	rows *sql.Rows
}

// StreamSegments returns every segment (including redundancy copies)
// belonging to ref, ordered by segment_index then redundancy_copy.
func (s *Store) StreamSegments(ctx context.Context, ref veilnet.SegmentRef) (*SegmentCursor, error) {
	const op = "store.StreamSegments"
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_id, pack_group_id, segment_index, redundancy_copy, plain_offset, plain_length,
			sha256, internal_subject, usenet_subject, message_id, state, posted_at, failure_reason
		FROM segments WHERE file_id = ? AND pack_group_id = ?
		ORDER BY segment_index ASC, redundancy_copy ASC`, string(ref.FileID), string(ref.PackGroupID))
	if err != nil {
		return nil, errors.E(op, err)
	}
	return &SegmentCursor{rows: rows}, nil
}

func (c *SegmentCursor) Next() bool { return c.rows.Next() }

func (c *SegmentCursor) Scan() (*veilnet.Segment, error) {
	const op = "store.SegmentCursor.Scan"
	s := &veilnet.Segment{}
	var fileID, packGroupID string
	var sha []byte
	var usenetSubject, messageID sql.NullString
	var postedAt sql.NullInt64
	var state uint8
	if err := c.rows.Scan(&fileID, &packGroupID, &s.SegmentIndex, &s.RedundancyCopy, &s.PlainOffset, &s.PlainLength,
		&sha, &s.InternalSubject, &usenetSubject, &messageID, &state, &postedAt, &s.FailureReason); err != nil {
		return nil, errors.E(op, err)
	}
	s.Ref = veilnet.SegmentRef{FileID: veilnet.FileID(fileID), PackGroupID: veilnet.PackGroupID(packGroupID)}
	copy(s.SHA256[:], sha)
	s.UsenetSubject = usenetSubject.String
	s.MessageID = veilnet.MessageID(messageID.String)
	s.State = veilnet.SegmentState(state)
	if postedAt.Valid {
		s.PostedAt = time.Unix(postedAt.Int64, 0).UTC()
	}
	return s, nil
}

func (c *SegmentCursor) Err() error   { return c.rows.Err() }
func (c *SegmentCursor) Close() error { return c.rows.Close() }

// StreamSegmentsByState returns every segment across all files in a
// state in the given set, used to recover from a crash mid-upload:
// enumerate pending|queued|uploading and re-queue them.
func (s *Store) StreamSegmentsByState(ctx context.Context, states ...veilnet.SegmentState) (*SegmentCursor, error) {
	const op = "store.StreamSegmentsByState"
	if len(states) == 0 {
		return nil, errors.E(op, errors.Str("no states given"))
	}
	placeholders := make([]interface{}, len(states))
	q := "SELECT file_id, pack_group_id, segment_index, redundancy_copy, plain_offset, plain_length, " +
		"sha256, internal_subject, usenet_subject, message_id, state, posted_at, failure_reason FROM segments WHERE state IN ("
	for i, st := range states {
		if i > 0 {
			q += ","
		}
		q += "?"
		placeholders[i] = uint8(st)
	}
	q += ") ORDER BY file_id ASC, segment_index ASC, redundancy_copy ASC"
	rows, err := s.db.QueryContext(ctx, q, placeholders...)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return &SegmentCursor{rows: rows}, nil
}

// StreamSegmentsByStateForFolder is StreamSegmentsByState scoped to one
// folder, joining through files and pack_groups so the upload engine's
// crash-recovery enumeration does not pick up another folder's
// in-flight segments.
func (s *Store) StreamSegmentsByStateForFolder(ctx context.Context, folderID veilnet.FolderID, states ...veilnet.SegmentState) (*SegmentCursor, error) {
	const op = "store.StreamSegmentsByStateForFolder"
	if len(states) == 0 {
		return nil, errors.E(op, errors.Str("no states given"))
	}
	placeholders := make([]interface{}, 0, len(states)+2)
	placeholders = append(placeholders, string(folderID), string(folderID))
	q := `SELECT sg.file_id, sg.pack_group_id, sg.segment_index, sg.redundancy_copy, sg.plain_offset, sg.plain_length,
			sg.sha256, sg.internal_subject, sg.usenet_subject, sg.message_id, sg.state, sg.posted_at, sg.failure_reason
		FROM segments sg
		LEFT JOIN files f ON f.file_id = sg.file_id
		LEFT JOIN pack_groups pg ON pg.pack_group_id = sg.pack_group_id
		WHERE (f.folder_id = ? OR pg.folder_id = ?) AND sg.state IN (`
	for i, st := range states {
		if i > 0 {
			q += ","
		}
		q += "?"
		placeholders = append(placeholders, uint8(st))
	}
	q += ") ORDER BY sg.file_id ASC, sg.segment_index ASC, sg.redundancy_copy ASC"
	rows, err := s.db.QueryContext(ctx, q, placeholders...)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return &SegmentCursor{rows: rows}, nil
}
