package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/galleria/galleria/internal/naming"
	"github.com/galleria/galleria/internal/uid"
)

// tmpDirName is the directory under the root that holds in-flight writes.
// It is never reported by Walk.
const tmpDirName = ".tmp"

// LocalBackend implements Backend on the local filesystem. Files live under
// RootDir at their relative path.
type LocalBackend struct {
	// RootDir is the base directory under which all asset files are stored.
	RootDir string
	// Collection is the directory under RootDir that uploads are placed in.
	Collection string
}

// NewLocalBackend creates a new LocalBackend rooted at rootDir. It does not
// touch the filesystem; call EnsureRoot before the first write.
func NewLocalBackend(rootDir, collection string) *LocalBackend {
	return &LocalBackend{RootDir: rootDir, Collection: naming.Normalize(collection)}
}

// EnsureRoot creates the root, collection, and temp directories.
func (b *LocalBackend) EnsureRoot(ctx context.Context) error {
	dirs := []string{b.RootDir, filepath.Join(b.RootDir, tmpDirName)}
	if b.Collection != "" {
		dirs = append(dirs, b.fullPath(b.Collection))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("creating directory %q: %w", d, err)
		}
	}
	return nil
}

// CleanTempFiles removes every file in the temp directory. It is called on
// startup as part of crash-only recovery: leftovers are incomplete writes
// from a previous crash. It returns the number of files removed.
func (b *LocalBackend) CleanTempFiles() (int, error) {
	tmpDir := filepath.Join(b.RootDir, tmpDirName)
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading temp directory: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if os.Remove(filepath.Join(tmpDir, entry.Name())) == nil {
			removed++
		}
	}
	return removed, nil
}

func (b *LocalBackend) fullPath(rel string) string {
	return filepath.Join(b.RootDir, filepath.FromSlash(naming.Normalize(rel)))
}

func (b *LocalBackend) tempPath() string {
	return filepath.Join(b.RootDir, tmpDirName, "tmp-"+uid.New())
}

// Write stores data at rel using the crash-only atomic write pattern:
// write to temp file, fsync, rename.
func (b *LocalBackend) Write(ctx context.Context, rel string, data []byte) error {
	if !naming.Valid(rel) {
		return &WriteError{Path: rel, Err: errors.New("invalid path")}
	}
	dst := b.fullPath(rel)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &WriteError{Path: rel, Err: fmt.Errorf("creating parent directories: %w", err)}
	}
	if err := os.MkdirAll(filepath.Join(b.RootDir, tmpDirName), 0o755); err != nil {
		return &WriteError{Path: rel, Err: fmt.Errorf("creating temp directory: %w", err)}
	}

	tmpPath := b.tempPath()
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return &WriteError{Path: rel, Err: fmt.Errorf("creating temp file: %w", err)}
	}

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return &WriteError{Path: rel, Err: fmt.Errorf("writing data: %w", err)}
	}

	// Fsync before rename to guarantee durability.
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return &WriteError{Path: rel, Err: fmt.Errorf("syncing temp file: %w", err)}
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return &WriteError{Path: rel, Err: fmt.Errorf("closing temp file: %w", err)}
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return &WriteError{Path: rel, Err: fmt.Errorf("renaming temp file to final path: %w", err)}
	}
	return nil
}

// Read returns the file contents at rel.
func (b *LocalBackend) Read(ctx context.Context, rel string) ([]byte, error) {
	if !naming.Valid(rel) {
		return nil, ErrNotFound
	}
	p := b.fullPath(rel)
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat %q: %w", rel, err)
	}
	if !info.Mode().IsRegular() {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading %q: %w", rel, err)
	}
	return data, nil
}

// Delete removes the file at rel. Idempotent. Empty parent directories are
// removed up to, but not including, the root and the collection directory.
func (b *LocalBackend) Delete(ctx context.Context, rel string) error {
	if !naming.Valid(rel) {
		return nil
	}
	p := b.fullPath(rel)

	err := os.Remove(p)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %q: %w", rel, err)
	}

	stops := map[string]bool{filepath.Clean(b.RootDir): true}
	if b.Collection != "" {
		stops[filepath.Clean(b.fullPath(b.Collection))] = true
	}
	cleanEmptyParents(filepath.Dir(p), filepath.Clean(b.RootDir), stops)
	return nil
}

// Exists reports whether a regular file exists at rel.
func (b *LocalBackend) Exists(ctx context.Context, rel string) (bool, error) {
	if !naming.Valid(rel) {
		return false, nil
	}
	info, err := os.Stat(b.fullPath(rel))
	if err == nil {
		return info.Mode().IsRegular(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking existence of %q: %w", rel, err)
}

// Walk traverses the root with an explicit worklist of directories, so
// depth never grows the call stack. Unreadable directories are yielded as
// *WalkError and skipped; the temp directory is never entered.
func (b *LocalBackend) Walk(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		info, err := os.Stat(b.RootDir)
		if err != nil || !info.IsDir() {
			if err == nil || os.IsNotExist(err) {
				yield("", ErrRootNotFound)
			} else {
				yield("", &WalkError{Dir: ".", Err: err})
			}
			return
		}

		pending := []string{""}
		for len(pending) > 0 {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			dir := pending[len(pending)-1]
			pending = pending[:len(pending)-1]

			entries, err := os.ReadDir(filepath.Join(b.RootDir, filepath.FromSlash(dir)))
			if err != nil {
				name := dir
				if name == "" {
					name = "."
				}
				if !yield("", &WalkError{Dir: name, Err: err}) {
					return
				}
				continue
			}
			for _, entry := range entries {
				rel := path.Join(dir, entry.Name())
				if dir == "" && entry.Name() == tmpDirName {
					continue
				}
				switch {
				case entry.IsDir():
					pending = append(pending, rel)
				case entry.Type().IsRegular():
					if !yield(rel, nil) {
						return
					}
				case entry.Type()&fs.ModeSymlink != 0:
					// Symlinks are followed only when they point at a regular file.
					if fi, err := os.Stat(filepath.Join(b.RootDir, filepath.FromSlash(rel))); err == nil && fi.Mode().IsRegular() {
						if !yield(rel, nil) {
							return
						}
					}
				}
			}
		}
	}
}

// HealthCheck verifies that the storage root directory is accessible.
func (b *LocalBackend) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(b.RootDir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root %q is not a directory", b.RootDir)
	}
	return nil
}

// cleanEmptyParents removes empty directories starting from dir and climbing
// toward root, stopping at any directory in stops or the first non-empty one.
func cleanEmptyParents(dir, root string, stops map[string]bool) {
	dir = filepath.Clean(dir)
	for !stops[dir] && strings.HasPrefix(dir, root+string(filepath.Separator)) {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
}

var _ Backend = (*LocalBackend)(nil)
