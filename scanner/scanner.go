// Package scanner implements the folder-tree indexer: depth-first
// traversal skipping symlinks that escape the root, streaming SHA-256
// hashing in fixed-size chunks, and a deterministic lexicographic
// sequence of ScannedFile records.
package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"veilnet.io/crypto"
	"veilnet.io/errors"
	"veilnet.io/veilnet"
)

// ScanError records a non-fatal per-file failure; scanning continues
// past it.
type ScanError struct {
	Path  string
	Cause error
}

func (e *ScanError) Error() string {
	return e.Path + ": " + e.Cause.Error()
}

// Result is one item yielded by Scan: either a successfully hashed
// file or a non-fatal ScanError.
type Result struct {
	File *veilnet.ScannedFile
	Err  *ScanError
}

// Options controls scanning behavior.
type Options struct {
	// ChunkSize is the streaming hash read size; 0 selects the 1 MiB default.
	ChunkSize int
	// Concurrency bounds the number of files hashed in parallel; 0 selects 8.
	Concurrency int
}

// Scan walks root depth-first, hashing every regular file and
// emitting results on the returned channel in deterministic
// lexicographic order by relative path. The channel is closed when the
// walk completes or the context is cancelled. A fatal error (root does
// not exist, root is not a directory) is returned directly rather than
// through the channel and aborts before any work begins.
func Scan(ctx context.Context, root string, opts Options) (<-chan Result, error) {
	const op = "scanner.Scan"
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.E(op, errors.InvalidPath, err)
	}
	if !info.IsDir() {
		return nil, errors.E(op, errors.InvalidPath, errors.Str("root is not a directory"))
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.E(op, err)
	}

	paths, err := collectPaths(absRoot)
	if err != nil {
		return nil, errors.E(op, err)
	}

	out := make(chan Result, 64)
	go func() {
		defer close(out)
		runScan(ctx, absRoot, paths, opts, out)
	}()
	return out, nil
}

// collectPaths lists every regular-file relative path under root in
// lexicographic order, skipping symlinks that resolve outside root.
// The path list itself is held in memory (bounded by file count, not
// content); only file contents are streamed.
func collectPaths(root string) ([]string, error) {
	var rels []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Fatal only for the root itself; an entry below it that
			// disappeared mid-walk or is unreadable is skipped.
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			target, err := filepath.EvalSymlinks(path)
			if err != nil {
				return nil // Broken symlink: skip, not fatal.
			}
			if !withinRoot(root, target) {
				return nil // Escapes root: skip.
			}
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rels = append(rels, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(rels)
	return rels, nil
}

func withinRoot(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

func runScan(ctx context.Context, root string, rels []string, opts Options, out chan<- Result) {
	chunk := opts.ChunkSize
	conc := opts.Concurrency
	if conc <= 0 {
		conc = 8
	}

	results := make([]Result, len(rels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(conc)
	for i, rel := range rels {
		i, rel := i, rel
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			default:
			}
			results[i] = hashOne(root, rel, chunk)
			return nil
		})
	}
	_ = g.Wait() // hashOne never returns an error to the group; failures are ScanErrors in-band.

	for _, r := range results {
		select {
		case <-ctx.Done():
			return
		case out <- r:
		}
	}
}

func hashOne(root, rel string, chunkSize int) Result {
	full := filepath.Join(root, rel)
	f, err := os.Open(full)
	if err != nil {
		return Result{Err: &ScanError{Path: rel, Cause: err}}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Result{Err: &ScanError{Path: rel, Cause: err}}
	}

	sum, n, err := crypto.SHA256Stream(f, chunkSize)
	if err != nil {
		return Result{Err: &ScanError{Path: rel, Cause: err}}
	}
	return Result{File: &veilnet.ScannedFile{
		RelPath: rel,
		Size:    n,
		SHA256:  sum,
		ModTime: info.ModTime(),
	}}
}
