// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/sendgrab/sendgrab/internal/transfer/types"
)

// NewTestLogger creates a test logger that outputs to t.Log.
func NewTestLogger(t *testing.T) zerolog.Logger {
	t.Helper()
	return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
}

// NopLogger returns a no-op logger for tests that don't need output.
func NopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// Package builds a package whose file ids are "<id>-f<n>" and whose
// contents are "content of <name>".
func Package(id string, names ...string) (*types.PackageInfo, map[string][]byte) {
	pkg := &types.PackageInfo{PackageID: id, PackageCode: "code-" + id, KeyCode: "key"}
	contents := make(map[string][]byte)
	for i, name := range names {
		fileID := fmt.Sprintf("%s-f%d", id, i)
		pkg.Files = append(pkg.Files, types.FileInfo{FileID: fileID, FileName: name, Size: int64(len(name)), Parts: 1})
		contents[fileID] = []byte("content of " + name)
	}
	return pkg, contents
}

// ReadFile returns the content at path or fails the test.
func ReadFile(t *testing.T, fsys afero.Fs, path string) string {
	t.Helper()
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

// WriteFile creates path with data or fails the test.
func WriteFile(t *testing.T, fsys afero.Fs, path, data string) {
	t.Helper()
	if err := afero.WriteFile(fsys, path, []byte(data), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
