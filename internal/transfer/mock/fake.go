package mock

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/sendgrab/sendgrab/internal/failure"
	"github.com/sendgrab/sendgrab/internal/transfer/types"
)

// Fake is an in-memory transfer service. Packages are registered by link and
// downloads are staged on the supplied filesystem, so the whole download path
// can run without a network.
type Fake struct {
	Fs    afero.Fs
	Email string

	// AuthErr is returned by VerifyCredentials when set.
	AuthErr error
	// FileErrs maps a file id to the error its download returns.
	FileErrs map[string]error

	mu        sync.Mutex
	packages  map[string]*types.PackageInfo
	contents  map[string][]byte
	calls     map[string]int
	downloads []string
	deleted   []string
	seq       int
}

// NewFake returns an empty fake backed by fsys.
func NewFake(fsys afero.Fs) *Fake {
	return &Fake{
		Fs:       fsys,
		Email:    "user@example.com",
		FileErrs: make(map[string]error),
		packages: make(map[string]*types.PackageInfo),
		contents: make(map[string][]byte),
		calls:    make(map[string]int),
	}
}

// AddPackage registers pkg under link with the content of each file keyed by file id.
func (f *Fake) AddPackage(link string, pkg *types.PackageInfo, contents map[string][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packages[link] = pkg
	for id, data := range contents {
		f.contents[id] = data
	}
}

func (f *Fake) VerifyCredentials(_ context.Context) (string, error) {
	f.count("verify")
	if f.AuthErr != nil {
		return "", f.AuthErr
	}
	return f.Email, nil
}

func (f *Fake) PackageInfo(_ context.Context, link string) (*types.PackageInfo, error) {
	f.count("package")
	f.mu.Lock()
	defer f.mu.Unlock()

	pkg, ok := f.packages[link]
	if !ok {
		return nil, failure.New(failure.PackageRetrieval, "package info", failure.ErrNotFound)
	}
	cp := *pkg
	cp.Files = append([]types.FileInfo(nil), pkg.Files...)
	return &cp, nil
}

func (f *Fake) DownloadFile(ctx context.Context, req types.DownloadRequest) (string, error) {
	f.count("download")
	if err := ctx.Err(); err != nil {
		return "", failure.New(failure.Transfer, "download "+req.File.FileName, err)
	}

	f.mu.Lock()
	f.downloads = append(f.downloads, req.File.FileID)
	errFile := f.FileErrs[req.File.FileID]
	data := f.contents[req.File.FileID]
	f.seq++
	name := fmt.Sprintf(".fake-%d.part", f.seq)
	f.mu.Unlock()

	if errFile != nil {
		return "", errFile
	}
	if req.Progress != nil {
		req.Progress("Downloading", 100)
	}

	dir := req.StagingDir
	if dir == "" {
		dir = "/tmp"
	}
	staged := filepath.Join(dir, name)
	if err := afero.WriteFile(f.Fs, staged, data, 0644); err != nil {
		return "", failure.New(failure.Transfer, "stage "+req.File.FileName, err)
	}
	return staged, nil
}

func (f *Fake) DeleteTempPackage(_ context.Context, packageID string) error {
	f.count("delete")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, packageID)
	return nil
}

// Calls returns how many times op was invoked: verify, package, download or delete.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Downloads returns the file ids downloaded so far, in call order.
func (f *Fake) Downloads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.downloads...)
}

// Deleted returns the package ids passed to DeleteTempPackage.
func (f *Fake) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *Fake) count(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}
