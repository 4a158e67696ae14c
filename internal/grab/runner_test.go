package grab

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sendgrab/sendgrab/internal/cleanup"
	"github.com/sendgrab/sendgrab/internal/downloader"
	"github.com/sendgrab/sendgrab/internal/failure"
	"github.com/sendgrab/sendgrab/internal/links"
	"github.com/sendgrab/sendgrab/internal/metrics"
	"github.com/sendgrab/sendgrab/internal/testutil"
	transfermock "github.com/sendgrab/sendgrab/internal/transfer/mock"
	"github.com/sendgrab/sendgrab/internal/transfer/types"
)

const (
	destDir   = "/home/user/Downloads"
	linkOne   = "https://svc.example.com/pkg#abc123"
	linkTwo   = "https://svc.example.com/other#def456"
	textInput = "Hi, your files are ready: " + linkOne + ". Thanks!"
)

type harness struct {
	fs     afero.Fs
	fake   *transfermock.Fake
	stdout *bytes.Buffer
}

func newHarness() *harness {
	fsys := afero.NewMemMapFs()
	return &harness{fs: fsys, fake: transfermock.NewFake(fsys), stdout: &bytes.Buffer{}}
}

func (h *harness) runner(client types.Client, opts Options) *Runner {
	planner := downloader.New(client, downloader.Options{
		Fs:     h.fs,
		Stdout: h.stdout,
		Logger: testutil.NopLogger(),
	})
	if opts.DestDir == "" {
		opts.DestDir = destDir
	}
	opts.Logger = testutil.NopLogger()
	return NewRunner(client, planner, opts)
}

func textOf(s string) Input {
	return Input{Data: []byte(s), Format: links.FormatText}
}

func onePackage(id, fileID, name string) *types.PackageInfo {
	return &types.PackageInfo{
		PackageID:   id,
		PackageCode: "code",
		KeyCode:     "abc123",
		Files:       []types.FileInfo{{FileID: fileID, FileName: name, Size: 3, Parts: 1}},
	}
}

func TestRun_NoLinksMakesNoCalls(t *testing.T) {
	h := newHarness()
	client := new(transfermock.Client)

	summary, err := h.runner(client, Options{}).Run(context.Background(), textOf("nothing to see here, https://example.com/no-fragment"))

	require.NoError(t, err)
	assert.Empty(t, summary.Links)
	assert.NotEmpty(t, summary.RunID)
	client.AssertExpectations(t)

	exists, _ := afero.Exists(h.fs, destDir)
	assert.False(t, exists)
}

func TestRun_SingleFile(t *testing.T) {
	h := newHarness()
	h.fake.AddPackage(linkOne, onePackage("pkg-1", "f1", "report.pdf"), map[string][]byte{"f1": []byte("pdf")})

	summary, err := h.runner(h.fake, Options{}).Run(context.Background(), textOf(textInput))
	require.NoError(t, err)

	assert.Equal(t, "report.pdf\n", h.stdout.String())
	data, err := afero.ReadFile(h.fs, filepath.Join(destDir, "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "pdf", string(data))

	assert.Equal(t, "user@example.com", summary.Account)
	require.Len(t, summary.Links, 1)
	assert.Equal(t, "pkg-1", summary.Links[0].PackageID)
	assert.Equal(t, 1, summary.Count(downloader.StatusDownloaded))
	assert.Equal(t, 1, h.fake.Calls("verify"))
}

func TestRun_VerifiesOnceForManyLinks(t *testing.T) {
	h := newHarness()
	h.fake.AddPackage(linkOne, onePackage("pkg-1", "f1", "a.txt"), map[string][]byte{"f1": []byte("a")})
	h.fake.AddPackage(linkTwo, onePackage("pkg-2", "f2", "b.txt"), map[string][]byte{"f2": []byte("b")})

	_, err := h.runner(h.fake, Options{}).Run(context.Background(), textOf(linkOne+"\n"+linkTwo+"\n"+linkOne))
	require.NoError(t, err)

	assert.Equal(t, 1, h.fake.Calls("verify"))
	assert.Equal(t, 2, h.fake.Calls("package"))
	assert.Equal(t, "a.txt\nb.txt\n", h.stdout.String())
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	h := newHarness()
	h.fake.AddPackage(linkOne, onePackage("pkg-1", "f1", "report.pdf"), map[string][]byte{"f1": []byte("pdf")})

	_, err := h.runner(h.fake, Options{}).Run(context.Background(), textOf(textInput))
	require.NoError(t, err)
	h.stdout.Reset()

	summary, err := h.runner(h.fake, Options{}).Run(context.Background(), textOf(textInput))
	require.NoError(t, err)

	assert.Empty(t, h.stdout.String())
	assert.Equal(t, 1, summary.Count(downloader.StatusSkipped))
}

func TestRun_InvalidCredentials(t *testing.T) {
	h := newHarness()
	h.fake.AuthErr = failure.New(failure.Authentication, "verify credentials", failure.ErrAuthFailed)
	h.fake.AddPackage(linkOne, onePackage("pkg-1", "f1", "report.pdf"), nil)

	_, err := h.runner(h.fake, Options{}).Run(context.Background(), textOf(textInput))

	assert.True(t, failure.Is(err, failure.Authentication))
	assert.Zero(t, h.fake.Calls("package"))
	exists, _ := afero.Exists(h.fs, destDir)
	assert.False(t, exists, "destination must not be created")
}

func TestRun_MalformedLinkStopsBeforeNetwork(t *testing.T) {
	h := newHarness()

	_, err := h.runner(h.fake, Options{}).Run(context.Background(), textOf("see https://svc.example.com/pkg#keyCode="))

	assert.True(t, failure.Is(err, failure.LinkParse))
	assert.Zero(t, h.fake.Calls("verify"))
}

func TestRun_LinkWithoutPackageCodeStopsBeforeNetwork(t *testing.T) {
	for _, text := range []string{
		"https://svc.example.com/#abc123",
		"https://svc.example.com/receive/#keyCode=abc123",
		linkOne + " https://svc.example.com/pkg#a=b",
	} {
		t.Run(text, func(t *testing.T) {
			h := newHarness()
			h.fake.AddPackage(linkOne, onePackage("pkg-1", "f1", "report.pdf"), map[string][]byte{"f1": []byte("pdf")})

			_, err := h.runner(h.fake, Options{}).Run(context.Background(), textOf(text))

			assert.True(t, failure.Is(err, failure.LinkParse))
			assert.Zero(t, h.fake.Calls("verify"))
			assert.Zero(t, h.fake.Calls("package"))
			assert.Empty(t, h.stdout.String())
		})
	}
}

func TestRun_PreparationFailureDeletesPackage(t *testing.T) {
	h := newHarness()
	h.fake.AddPackage(linkOne, onePackage("pkg-42", "f1", "report.pdf"), map[string][]byte{"f1": []byte("pdf")})
	h.fake.FileErrs["f1"] = failure.New(failure.Preparation, "download report.pdf", errors.New("API error PACKAGE_FINALIZATION_FAILED")).WithPackage("pkg-42")

	r := h.runner(h.fake, Options{})
	_, err := r.Run(context.Background(), textOf(textInput))

	assert.True(t, failure.Is(err, failure.Preparation))
	assert.Equal(t, []string{"pkg-42"}, h.fake.Deleted())
	assert.Equal(t, cleanup.Faulted, r.CleanupState())
	assert.Empty(t, h.stdout.String())
}

func TestRun_PreparationFailureOnPackageInfo(t *testing.T) {
	h := newHarness()
	client := new(transfermock.Client)
	prep := failure.New(failure.Preparation, "package info", errors.New("API error APPROVER_REQUIRED")).WithPackage("pkg-42")
	client.On("VerifyCredentials", mock.Anything).Return("user@example.com", nil).Once()
	client.On("PackageInfo", mock.Anything, linkOne).Return(nil, prep).Once()
	client.On("DeleteTempPackage", mock.Anything, "pkg-42").Return(nil).Once()

	_, err := h.runner(client, Options{}).Run(context.Background(), textOf(textInput))

	assert.ErrorIs(t, err, prep)
	client.AssertExpectations(t)
}

func TestRun_PreparationWithoutPackageIDKeepsEarlierPackage(t *testing.T) {
	h := newHarness()
	client := new(transfermock.Client)
	prep := failure.New(failure.Preparation, "package info", errors.New("API error INVALID_RECIPIENT"))
	client.On("VerifyCredentials", mock.Anything).Return("user@example.com", nil).Once()
	client.On("PackageInfo", mock.Anything, linkOne).Return(&types.PackageInfo{PackageID: "pkg-1"}, nil).Once()
	client.On("PackageInfo", mock.Anything, linkTwo).Return(nil, prep).Once()

	_, err := h.runner(client, Options{}).Run(context.Background(), textOf(linkOne+" "+linkTwo))

	assert.True(t, failure.Is(err, failure.Preparation))
	client.AssertExpectations(t)
	client.AssertNotCalled(t, "DeleteTempPackage", mock.Anything, mock.Anything)
}

func TestRun_TransferFailureDoesNotDelete(t *testing.T) {
	h := newHarness()
	h.fake.AddPackage(linkOne, onePackage("pkg-1", "f1", "report.pdf"), map[string][]byte{"f1": []byte("pdf")})
	h.fake.FileErrs["f1"] = failure.New(failure.Transfer, "download report.pdf", errors.New("connection reset"))

	_, err := h.runner(h.fake, Options{}).Run(context.Background(), textOf(textInput))

	assert.True(t, failure.Is(err, failure.Transfer))
	assert.Empty(t, h.fake.Deleted())
}

func TestRun_AbortsRemainingLinksByDefault(t *testing.T) {
	h := newHarness()
	h.fake.AddPackage(linkTwo, onePackage("pkg-2", "f2", "b.txt"), map[string][]byte{"f2": []byte("b")})

	summary, err := h.runner(h.fake, Options{}).Run(context.Background(), textOf(linkOne+" "+linkTwo))

	assert.ErrorIs(t, err, failure.ErrNotFound)
	assert.Len(t, summary.Links, 1)
	assert.Equal(t, 1, h.fake.Calls("package"))
	assert.Empty(t, h.stdout.String())
}

func TestRun_ContinueOnError(t *testing.T) {
	h := newHarness()
	h.fake.AddPackage(linkTwo, onePackage("pkg-2", "f2", "b.txt"), map[string][]byte{"f2": []byte("b")})

	summary, err := h.runner(h.fake, Options{ContinueOnError: true}).Run(context.Background(), textOf(linkOne+" "+linkTwo))

	assert.ErrorIs(t, err, failure.ErrNotFound)
	assert.Len(t, summary.Links, 2)
	assert.Equal(t, 1, summary.Failed())
	assert.Equal(t, "b.txt\n", h.stdout.String())
}

func TestRun_Cancelled(t *testing.T) {
	h := newHarness()
	h.fake.AddPackage(linkOne, onePackage("pkg-1", "f1", "a.txt"), map[string][]byte{"f1": []byte("a")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.runner(h.fake, Options{}).Run(ctx, textOf(textInput))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.fake.Calls("package"))
}

func TestRun_HTMLInput(t *testing.T) {
	h := newHarness()
	h.fake.AddPackage(linkOne, onePackage("pkg-1", "f1", "a.txt"), map[string][]byte{"f1": []byte("a")})

	html := `<html><body><p>Your package:</p><a href="` + linkOne + `">Download</a></body></html>`
	_, err := h.runner(h.fake, Options{}).Run(context.Background(), Input{Data: []byte(html), Format: links.FormatAuto})

	require.NoError(t, err)
	assert.Equal(t, "a.txt\n", h.stdout.String())
}

func TestRun_RecordsMetrics(t *testing.T) {
	h := newHarness()
	h.fake.AddPackage(linkOne, onePackage("pkg-1", "f1", "a.txt"), map[string][]byte{"f1": []byte("abc")})
	m := metrics.New()

	_, err := h.runner(h.fake, Options{Metrics: m}).Run(context.Background(), textOf(textInput))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "run.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `sendgrab_files_total{outcome="downloaded"} 1`)
	assert.Contains(t, string(data), `sendgrab_links_total{result="ok"} 1`)
	assert.Contains(t, string(data), "sendgrab_bytes_downloaded_total 3")
}
