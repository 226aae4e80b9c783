// Package fsx holds the small filesystem primitives shared by the ledger and
// the sync engine: atomic writes, content hashing and repository lookup.
package fsx

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// WriteFileAtomic writes data to a temporary file next to path and renames it
// into place, so readers never observe a partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// HashFile returns the hex SHA-256 digest of the file contents.
func HashFile(path string) (string, error) {
	return HashFiles(path)
}

// HashFiles returns one hex SHA-256 digest over the contents of every path,
// in the order given. Each file is prefixed by its base name so that moving
// bytes between files changes the digest.
func HashFiles(paths ...string) (string, error) {
	h := sha256.New()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return "", fmt.Errorf("open %s: %w", p, err)
		}
		_, _ = io.WriteString(h, filepath.Base(p)+"\x00")
		_, err = io.Copy(h, f)
		_ = f.Close()
		if err != nil {
			return "", fmt.Errorf("hash %s: %w", p, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the hex SHA-256 digest of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Exists reports whether path exists. Errors other than not-exist count as
// existing so that a permission problem never triggers a blind re-export.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}

// FindRepoRoot walks up from start looking for a .git entry.
func FindRepoRoot(start string) string {
	if start == "" {
		return ""
	}
	path := filepath.Clean(start)
	for {
		if st, err := os.Stat(filepath.Join(path, ".git")); err == nil && st != nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return ""
		}
		path = parent
	}
}

// ResolvePath returns an absolute, symlink-resolved form of p. Paths that do
// not exist are returned absolute and cleaned.
func ResolvePath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = filepath.Clean(p)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// IsUnderRepo reports whether cwd belongs to the repository at repo: either
// the resolved cwd lies inside the resolved repo, or one of the cwd path
// segments equals the repo directory name. An empty cwd never matches.
func IsUnderRepo(cwd, repo string) bool {
	if cwd == "" || repo == "" {
		return false
	}
	resolvedCwd := ResolvePath(cwd)
	resolvedRepo := ResolvePath(repo)
	if rel, err := filepath.Rel(resolvedRepo, resolvedCwd); err == nil {
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
			return true
		}
	}

	name := filepath.Base(resolvedRepo)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(cwd), "/") {
		if seg == name {
			return true
		}
	}
	return false
}
