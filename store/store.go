// Package store implements the persistence layer: transactional CRUD
// over the entity set plus O(1)-memory streaming iteration, backed by
// modernc.org/sqlite (a cgo-free SQLite driver) through database/sql.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"time"

	_ "modernc.org/sqlite"

	"veilnet.io/errors"
	"veilnet.io/veilnet"
)

// Store is a single transactional handle over the entity set.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite-backed store at path.
// Use ":memory:" for an ephemeral, process-local store.
func Open(path string) (*Store, error) {
	const op = "store.Open"
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.E(op, err)
	}
	db.SetMaxOpenConns(1) // SQLite: serialize writers; reads use WAL in production deployments.
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.E(op, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tx is a transaction scope: all writes made through it commit
// atomically on a nil return from the function passed to WithTx, or
// roll back entirely on error or panic.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a single transaction. Segment inserts are
// grouped with their parent file insert, and publication creation
// records the encrypted index blob atomically; both hold because
// callers use one WithTx call per logical operation.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) (err error) {
	const op = "store.WithTx"
	sqltx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.E(op, err)
	}
	defer func() {
		if p := recover(); p != nil {
			sqltx.Rollback()
			panic(p)
		}
	}()
	if err := fn(&Tx{tx: sqltx}); err != nil {
		sqltx.Rollback()
		return err
	}
	if err := sqltx.Commit(); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// --- users ---

func (t *Tx) InsertUser(u *veilnet.User) error {
	const op = "store.InsertUser"
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := t.tx.Exec(`INSERT INTO users(user_id, public_key, wrapped_private, storage_salt, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(u.ID), []byte(u.PublicKey), u.WrappedPrivate, u.StorageSalt, createdAt.Unix())
	if err != nil {
		return errors.E(op, err)
	}
	return nil
}

func (t *Tx) FetchUser(id veilnet.UserID) (*veilnet.User, error) {
	const op = "store.FetchUser"
	row := t.tx.QueryRow(`SELECT user_id, public_key, wrapped_private, storage_salt, created_at FROM users WHERE user_id = ?`, string(id))
	u := &veilnet.User{}
	var idStr string
	var createdAt int64
	if err := row.Scan(&idStr, &u.PublicKey, &u.WrappedPrivate, &u.StorageSalt, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.E(op, errors.NoSuchUser)
		}
		return nil, errors.E(op, err)
	}
	u.ID = veilnet.UserID(idStr)
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return u, nil
}

// --- folders ---

func (t *Tx) InsertFolder(f *veilnet.Folder) error {
	const op = "store.InsertFolder"
	createdAt := f.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := t.tx.Exec(`INSERT INTO folders(folder_id, owner_id, root_path, public_key, wrapped_private, created_at, deleted)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		string(f.ID), string(f.OwnerID), f.RootPath, []byte(f.PublicKey), f.WrappedPrivate, createdAt.Unix())
	if err != nil {
		return errors.E(op, err)
	}
	return nil
}

func (t *Tx) FetchFolder(id veilnet.FolderID) (*veilnet.Folder, error) {
	const op = "store.FetchFolder"
	row := t.tx.QueryRow(`SELECT folder_id, owner_id, root_path, public_key, wrapped_private, created_at, deleted
		FROM folders WHERE folder_id = ?`, string(id))
	f := &veilnet.Folder{}
	var idStr, ownerStr string
	var createdAt int64
	var deleted int
	if err := row.Scan(&idStr, &ownerStr, &f.RootPath, &f.PublicKey, &f.WrappedPrivate, &createdAt, &deleted); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.E(op, errors.NoSuchFolder)
		}
		return nil, errors.E(op, err)
	}
	f.ID = veilnet.FolderID(idStr)
	f.OwnerID = veilnet.UserID(ownerStr)
	f.CreatedAt = time.Unix(createdAt, 0).UTC()
	f.Deleted = deleted != 0
	return f, nil
}

// DeleteFolder marks a folder logically deleted: rows are retained,
// its articles simply become unreachable through this store.
func (t *Tx) DeleteFolder(id veilnet.FolderID) error {
	const op = "store.DeleteFolder"
	if _, err := t.tx.Exec(`UPDATE folders SET deleted = 1 WHERE folder_id = ?`, string(id)); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// --- files ---

func (t *Tx) InsertFile(f *veilnet.File) error {
	const op = "store.InsertFile"
	createdAt := f.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := t.tx.Exec(`INSERT INTO files(file_id, folder_id, rel_path, version, size, sha256, mime_hint, mod_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(f.ID), string(f.FolderID), f.RelPath, f.Version, f.Size, f.SHA256[:], f.MIMEHint, f.ModTime.Unix(), createdAt.Unix())
	if err != nil {
		return errors.E(op, err)
	}
	return nil
}

// LatestFileVersion returns the highest version number recorded for
// (folderID, relPath), or 0 if no version exists yet.
func (t *Tx) LatestFileVersion(folderID veilnet.FolderID, relPath string) (int64, error) {
	const op = "store.LatestFileVersion"
	row := t.tx.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM files WHERE folder_id = ? AND rel_path = ?`, string(folderID), relPath)
	var v int64
	if err := row.Scan(&v); err != nil {
		return 0, errors.E(op, err)
	}
	return v, nil
}

// FolderVersion returns the highest version number assigned across
// every path in folderID, the folder-wide snapshot cutoff a re-index
// bumps and a publication records. Zero if the folder has no files
// yet.
func (s *Store) FolderVersion(ctx context.Context, folderID veilnet.FolderID) (int64, error) {
	const op = "store.FolderVersion"
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM files WHERE folder_id = ?`, string(folderID))
	var v int64
	if err := row.Scan(&v); err != nil {
		return 0, errors.E(op, err)
	}
	return v, nil
}

// FetchFileByID looks up a single File row by its globally unique ID,
// used by the upload engine to locate a sliced segment's source file on
// disk without knowing which folder version it belongs to.
func (t *Tx) FetchFileByID(id veilnet.FileID) (*veilnet.File, error) {
	const op = "store.FetchFileByID"
	row := t.tx.QueryRow(`SELECT file_id, folder_id, rel_path, version, size, sha256, mime_hint, mod_time, created_at
		FROM files WHERE file_id = ?`, string(id))
	f := &veilnet.File{}
	var fileID, folderID string
	var sha []byte
	var modTime, createdAt int64
	if err := row.Scan(&fileID, &folderID, &f.RelPath, &f.Version, &f.Size, &sha, &f.MIMEHint, &modTime, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.E(op, errors.Str("no such file"))
		}
		return nil, errors.E(op, err)
	}
	f.ID = veilnet.FileID(fileID)
	f.FolderID = veilnet.FolderID(folderID)
	copy(f.SHA256[:], sha)
	f.ModTime = time.Unix(modTime, 0).UTC()
	f.CreatedAt = time.Unix(createdAt, 0).UTC()
	return f, nil
}

// --- pack groups ---

func (t *Tx) InsertPackGroup(pg *veilnet.PackGroup) error {
	const op = "store.InsertPackGroup"
	_, err := t.tx.Exec(`INSERT INTO pack_groups(pack_group_id, folder_id, version, entries, total)
		VALUES (?, ?, ?, ?, ?)`,
		string(pg.ID), string(pg.FolderID), pg.Version, encodePackEntries(pg.Entries), pg.Total)
	if err != nil {
		return errors.E(op, err)
	}
	for _, e := range pg.Entries {
		if _, err := t.tx.Exec(`INSERT INTO pack_file_index(file_id, pack_group_id) VALUES (?, ?)`,
			string(e.FileID), string(pg.ID)); err != nil {
			return errors.E(op, err)
		}
	}
	return nil
}

// FetchPackGroupForFile looks up the pack group containing fileID, if
// any, via the pack_file_index reverse mapping populated by
// InsertPackGroup. Returns (nil, nil) when fileID was never packed (it
// was sliced directly instead).
func (t *Tx) FetchPackGroupForFile(fileID veilnet.FileID) (*veilnet.PackGroup, error) {
	const op = "store.FetchPackGroupForFile"
	row := t.tx.QueryRow(`SELECT pack_group_id FROM pack_file_index WHERE file_id = ?`, string(fileID))
	var groupID string
	if err := row.Scan(&groupID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.E(op, err)
	}
	return t.FetchPackGroup(veilnet.PackGroupID(groupID))
}

// FetchPackGroup looks up a pack group by ID, decoding its entry
// header so the upload engine can locate each packed file's bytes on
// disk when reposting or recovering a packed segment.
func (t *Tx) FetchPackGroup(id veilnet.PackGroupID) (*veilnet.PackGroup, error) {
	const op = "store.FetchPackGroup"
	row := t.tx.QueryRow(`SELECT pack_group_id, folder_id, version, entries, total FROM pack_groups WHERE pack_group_id = ?`, string(id))
	pg := &veilnet.PackGroup{}
	var idStr, folderID string
	var entries []byte
	if err := row.Scan(&idStr, &folderID, &pg.Version, &entries, &pg.Total); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.E(op, errors.Str("no such pack group"))
		}
		return nil, errors.E(op, err)
	}
	pg.ID = veilnet.PackGroupID(idStr)
	pg.FolderID = veilnet.FolderID(folderID)
	decoded, err := decodePackEntries(entries)
	if err != nil {
		return nil, errors.E(op, err)
	}
	pg.Entries = decoded
	return pg, nil
}

func encodePackEntries(entries []veilnet.PackedEntry) []byte {
	buf := make([]byte, 0, len(entries)*32)
	var tmp [8]byte
	binary.BigEndian.PutUint32(tmp[:4], uint32(len(entries)))
	buf = append(buf, tmp[:4]...)
	for _, e := range entries {
		binary.BigEndian.PutUint32(tmp[:4], uint32(len(e.FileID)))
		buf = append(buf, tmp[:4]...)
		buf = append(buf, []byte(e.FileID)...)
		binary.BigEndian.PutUint64(tmp[:], uint64(e.Offset))
		buf = append(buf, tmp[:]...)
		binary.BigEndian.PutUint64(tmp[:], uint64(e.Length))
		buf = append(buf, tmp[:]...)
	}
	return buf
}

func decodePackEntries(buf []byte) ([]veilnet.PackedEntry, error) {
	const op = "store.decodePackEntries"
	if len(buf) < 4 {
		return nil, errors.E(op, errors.Str("truncated pack entry header"))
	}
	n := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	entries := make([]veilnet.PackedEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(buf) < 4 {
			return nil, errors.E(op, errors.Str("truncated pack entry"))
		}
		idLen := binary.BigEndian.Uint32(buf[:4])
		buf = buf[4:]
		if uint32(len(buf)) < idLen+16 {
			return nil, errors.E(op, errors.Str("truncated pack entry"))
		}
		fileID := veilnet.FileID(buf[:idLen])
		buf = buf[idLen:]
		offset := binary.BigEndian.Uint64(buf[:8])
		buf = buf[8:]
		length := binary.BigEndian.Uint64(buf[:8])
		buf = buf[8:]
		entries = append(entries, veilnet.PackedEntry{FileID: fileID, Offset: int64(offset), Length: int64(length)})
	}
	return entries, nil
}

// --- segments ---

func (t *Tx) InsertSegment(s *veilnet.Segment) error {
	const op = "store.InsertSegment"
	var postedAt interface{}
	if !s.PostedAt.IsZero() {
		postedAt = s.PostedAt.Unix()
	}
	_, err := t.tx.Exec(`INSERT INTO segments(
			file_id, pack_group_id, segment_index, redundancy_copy, plain_offset, plain_length,
			sha256, internal_subject, usenet_subject, message_id, state, posted_at, failure_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(s.Ref.FileID), string(s.Ref.PackGroupID), s.SegmentIndex, s.RedundancyCopy,
		s.PlainOffset, s.PlainLength, s.SHA256[:], s.InternalSubject,
		nullableString(s.UsenetSubject), nullableString(string(s.MessageID)), uint8(s.State), postedAt, s.FailureReason)
	if err != nil {
		return errors.E(op, err)
	}
	return nil
}

// UpdateSegmentUploading transitions a segment to uploading, recording
// the Message-ID minted for the attempt before the article is posted.
// A crashed process leaves the segment in this state; recovery can then
// check the recorded Message-ID against the upstream (HEAD) to learn
// whether the post landed before the posted-state commit was reached.
func (t *Tx) UpdateSegmentUploading(ref veilnet.SegmentRef, segmentIndex, redundancyCopy int, msgID veilnet.MessageID) error {
	const op = "store.UpdateSegmentUploading"
	res, err := t.tx.Exec(`UPDATE segments SET message_id = ?, state = ?
		WHERE file_id = ? AND pack_group_id = ? AND segment_index = ? AND redundancy_copy = ?`,
		string(msgID), uint8(veilnet.SegmentUploading),
		string(ref.FileID), string(ref.PackGroupID), segmentIndex, redundancyCopy)
	if err != nil {
		return errors.E(op, err)
	}
	return checkOneRowAffected(op, res)
}

// UpdateSegmentPosted commits the (message_id, usenet_subject, posted_at)
// triple and the posted state transition atomically; observers never
// see state=posted without these fields also committed.
func (t *Tx) UpdateSegmentPosted(ref veilnet.SegmentRef, segmentIndex, redundancyCopy int, msgID veilnet.MessageID, subject string, postedAt time.Time) error {
	const op = "store.UpdateSegmentPosted"
	res, err := t.tx.Exec(`UPDATE segments SET message_id = ?, usenet_subject = ?, state = ?, posted_at = ?
		WHERE file_id = ? AND pack_group_id = ? AND segment_index = ? AND redundancy_copy = ?`,
		string(msgID), subject, uint8(veilnet.SegmentPosted), postedAt.Unix(),
		string(ref.FileID), string(ref.PackGroupID), segmentIndex, redundancyCopy)
	if err != nil {
		return errors.E(op, err)
	}
	return checkOneRowAffected(op, res)
}

// UpdateSegmentState transitions a segment to a new state, recording a
// failure reason when provided.
func (t *Tx) UpdateSegmentState(ref veilnet.SegmentRef, segmentIndex, redundancyCopy int, state veilnet.SegmentState, reason string) error {
	const op = "store.UpdateSegmentState"
	res, err := t.tx.Exec(`UPDATE segments SET state = ?, failure_reason = ?
		WHERE file_id = ? AND pack_group_id = ? AND segment_index = ? AND redundancy_copy = ?`,
		uint8(state), reason, string(ref.FileID), string(ref.PackGroupID), segmentIndex, redundancyCopy)
	if err != nil {
		return errors.E(op, err)
	}
	return checkOneRowAffected(op, res)
}

func checkOneRowAffected(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.E(op, err)
	}
	if n == 0 {
		return errors.E(op, errors.Str("no matching row"))
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// --- publications ---

func (t *Tx) InsertPublication(p *veilnet.Publication) error {
	const op = "store.InsertPublication"
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var expiresAt interface{}
	if !p.ExpiresAt.IsZero() {
		expiresAt = p.ExpiresAt.Unix()
	}
	if _, err := t.tx.Exec(`INSERT INTO publications(
			share_id, folder_id, folder_version, access_level, created_at, expires_at,
			encrypted_index, password_salt, scrypt_n, scrypt_r, scrypt_p)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(p.ShareID), string(p.FolderID), p.FolderVersion, uint8(p.AccessLevel), createdAt.Unix(), expiresAt,
		p.EncryptedIndex, p.PasswordSalt, p.ScryptN, p.ScryptR, p.ScryptP); err != nil {
		return errors.E(op, err)
	}
	for _, c := range p.AuthorizedCommitments {
		if _, err := t.tx.Exec(`INSERT INTO authorized_users(share_id, commitment) VALUES (?, ?)`, string(p.ShareID), c); err != nil {
			return errors.E(op, err)
		}
	}
	return nil
}

func (t *Tx) FetchPublication(id veilnet.ShareID) (*veilnet.Publication, error) {
	const op = "store.FetchPublication"
	row := t.tx.QueryRow(`SELECT share_id, folder_id, folder_version, access_level, created_at, expires_at,
			encrypted_index, password_salt, scrypt_n, scrypt_r, scrypt_p
		FROM publications WHERE share_id = ?`, string(id))
	p := &veilnet.Publication{}
	var shareID, folderID string
	var accessLevel uint8
	var createdAt int64
	var expiresAt sql.NullInt64
	var scryptN, scryptR, scryptP sql.NullInt64
	if err := row.Scan(&shareID, &folderID, &p.FolderVersion, &accessLevel, &createdAt, &expiresAt,
		&p.EncryptedIndex, &p.PasswordSalt, &scryptN, &scryptR, &scryptP); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.E(op, errors.UnknownShareID)
		}
		return nil, errors.E(op, err)
	}
	p.ShareID = veilnet.ShareID(shareID)
	p.FolderID = veilnet.FolderID(folderID)
	p.AccessLevel = veilnet.AccessLevel(accessLevel)
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	if expiresAt.Valid {
		p.ExpiresAt = time.Unix(expiresAt.Int64, 0).UTC()
	}
	p.ScryptN = int(scryptN.Int64)
	p.ScryptR = int(scryptR.Int64)
	p.ScryptP = int(scryptP.Int64)

	rows, err := t.tx.Query(`SELECT commitment FROM authorized_users WHERE share_id = ?`, string(id))
	if err != nil {
		return nil, errors.E(op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var c []byte
		if err := rows.Scan(&c); err != nil {
			return nil, errors.E(op, err)
		}
		p.AuthorizedCommitments = append(p.AuthorizedCommitments, c)
	}
	return p, rows.Err()
}

// RevokePublication sets a publication's expiry to now. It does not
// invalidate already-posted segments.
func (t *Tx) RevokePublication(id veilnet.ShareID, now time.Time) error {
	const op = "store.RevokePublication"
	res, err := t.tx.Exec(`UPDATE publications SET expires_at = ? WHERE share_id = ?`, now.Unix(), string(id))
	if err != nil {
		return errors.E(op, err)
	}
	return checkOneRowAffected(op, res)
}
