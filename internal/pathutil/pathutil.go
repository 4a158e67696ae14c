// Package pathutil resolves declared file names into destination paths and
// moves staged downloads into place.
package pathutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/spf13/afero"

	"github.com/sendgrab/sendgrab/internal/failure"
)

// NormalizePath converts all path separators to forward slashes.
// Go's os.Open/os.Stat accept forward slashes on all platforms.
func NormalizePath(p string) string {
	return filepath.ToSlash(p)
}

// EnsureDir creates dir and its parents if missing.
func EnsureDir(fsys afero.Fs, dir string) error {
	info, err := fsys.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return failure.Newf(failure.Filesystem, "create destination", "%s exists and is not a directory", dir)
		}
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return failure.New(failure.Filesystem, "create destination", err)
	}
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return failure.New(failure.Filesystem, "create destination", err)
	}
	return nil
}

// Resolve joins a declared file name onto dir. Names that are absolute, that
// would leave dir once cleaned, or that hold control characters are rejected.
// Backslashes count as separators since packages are often authored on Windows.
func Resolve(dir, name string) (string, error) {
	if strings.ContainsRune(name, 0) {
		return "", failure.Newf(failure.Filesystem, "resolve destination", "file name contains NUL: %w", failure.ErrPathEscape)
	}
	// Names are echoed one per line on stdout.
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return "", failure.Newf(failure.Filesystem, "resolve destination", "%q contains control characters: %w", name, failure.ErrPathEscape)
	}

	slashed := strings.ReplaceAll(name, `\`, "/")
	if strings.TrimSpace(slashed) == "" {
		return "", failure.Newf(failure.Filesystem, "resolve destination", "empty file name")
	}
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(name) || filepath.VolumeName(name) != "" || hasDriveLetter(slashed) {
		return "", failure.Newf(failure.Filesystem, "resolve destination", "%q is absolute: %w", name, failure.ErrPathEscape)
	}

	rel := filepath.Clean(filepath.FromSlash(slashed))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", failure.Newf(failure.Filesystem, "resolve destination", "%q: %w", name, failure.ErrPathEscape)
	}

	base := filepath.Clean(dir)
	full := filepath.Join(base, rel)
	within, err := filepath.Rel(base, full)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", failure.Newf(failure.Filesystem, "resolve destination", "%q: %w", name, failure.ErrPathEscape)
	}

	return full, nil
}

func hasDriveLetter(p string) bool {
	return len(p) >= 2 && p[1] == ':' && ((p[0] >= 'a' && p[0] <= 'z') || (p[0] >= 'A' && p[0] <= 'Z'))
}

// Exists reports whether something is present at path.
func Exists(fsys afero.Fs, path string) (bool, error) {
	_, err := fsys.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, failure.New(failure.Filesystem, "stat destination", err)
}

// MoveNoClobber moves src to dst and never replaces an existing dst.
// On the OS filesystem the existence check and the move are a single hard
// link, so a concurrent writer that got there first is detected reliably.
// The staged src is removed in every case.
func MoveNoClobber(fsys afero.Fs, src, dst string) error {
	defer fsys.Remove(src) //nolint:errcheck // src is gone after a successful move

	if _, ok := fsys.(*afero.OsFs); ok {
		err := os.Link(src, dst)
		if err == nil {
			return nil
		}
		if errors.Is(err, fs.ErrExist) {
			return failure.New(failure.Filesystem, "move into place", fmt.Errorf("%s: %w", dst, failure.ErrDestinationExists))
		}
		// Filesystems without hard links fall through to stat+rename.
	}

	exists, err := Exists(fsys, dst)
	if err != nil {
		return err
	}
	if exists {
		return failure.New(failure.Filesystem, "move into place", fmt.Errorf("%s: %w", dst, failure.ErrDestinationExists))
	}
	if err := fsys.Rename(src, dst); err != nil {
		return failure.New(failure.Filesystem, "move into place", err)
	}
	return nil
}
