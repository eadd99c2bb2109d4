// Package capture manages the on-disk CapturedAudio files: path
// resolution, the is_capture_ready probe (§4.3), and LRU-by-mtime retention
// (§4.8). Directory walking is grounded on the teacher's
// internal/playlist/scanner.go (collect per-file errors, never abort the
// whole scan).
package capture

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Store resolves CapturedAudio file paths under a single capture_dir and
// enforces a bounded retention policy over it.
type Store struct {
	dir       string
	ext       string
	retention int
}

// NewStore creates a Store rooted at dir, keeping at most retention files
// (the most recent by mtime). ext is the file extension applied to capture
// files (e.g. "opus"), without a leading dot.
func NewStore(dir, ext string, retention int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory %q: %w", dir, err)
	}
	if retention < 1 {
		retention = 1
	}
	return &Store{dir: dir, ext: ext, retention: retention}, nil
}

// PathFor returns the capture file path for identifier: capture_dir/{identifier}.ext.
func (s *Store) PathFor(identifier string) string {
	return filepath.Join(s.dir, identifier+"."+s.ext)
}

// IsReady implements the capture-ready probe (§4.3): true once the capture
// file exists and has nonzero size. This is a file-existence/size check
// only — no content validation.
func (s *Store) IsReady(identifier string) bool {
	info, err := os.Stat(s.PathFor(identifier))
	if err != nil {
		return false
	}
	return info.Size() > 0
}

// RemoveIfEmpty deletes the in-progress capture file for identifier if it
// exists and is zero-sized (§4.2 step 6: stop/error cleanup).
func (s *Store) RemoveIfEmpty(identifier string) {
	path := s.PathFor(identifier)
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Size() == 0 {
		if err := os.Remove(path); err != nil {
			slog.Warn("failed to remove empty capture file", "path", path, "error", err)
		}
	}
}

// Remove deletes the capture file for identifier, if present. Best-effort:
// errors are logged, not returned, matching the pipeline cleanup stage's
// contract (§4.5 stage 5).
func (s *Store) Remove(identifier string) {
	path := s.PathFor(identifier)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove capture file", "path", path, "error", err)
	}
}

// EnforceRetention lists capture_dir, sorts by mtime descending, and deletes
// all but the most recent retention files (§4.8, §8 boundary: at N+1 files
// exactly one — the oldest by mtime — is deleted). Intended to be run on a
// short-lived goroutine so a slow or stalled filesystem never blocks the
// caller.
func (s *Store) EnforceRetention() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		slog.Warn("capture retention: failed to list directory", "dir", s.dir, "error", err)
		return
	}

	type fileInfo struct {
		path    string
		modTime int64
	}
	files := make([]fileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			slog.Warn("capture retention: stat failed", "name", e.Name(), "error", err)
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(s.dir, e.Name()), modTime: info.ModTime().UnixNano()})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime > files[j].modTime })

	if len(files) <= s.retention {
		return
	}
	for _, f := range files[s.retention:] {
		if err := os.Remove(f.path); err != nil {
			slog.Warn("capture retention: failed to remove file", "path", f.path, "error", err)
		}
	}
}

// EnforceRetentionAsync runs EnforceRetention on a short-lived goroutine so
// the caller (the daemon's periodic retention ticker) is never blocked by
// filesystem stalls (e.g. network mounts).
func (s *Store) EnforceRetentionAsync() {
	go s.EnforceRetention()
}
