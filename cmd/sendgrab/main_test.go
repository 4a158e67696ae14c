package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sendgrab/sendgrab/internal/config"
	"github.com/sendgrab/sendgrab/internal/failure"
	"github.com/sendgrab/sendgrab/internal/report"
	"github.com/sendgrab/sendgrab/internal/transfer/mock"
	"github.com/sendgrab/sendgrab/internal/transfer/types"
)

const (
	link = "https://svc.example.com/pkg#abc123"
	dest = "/out"
)

type testEnv struct {
	env
	fake   *mock.Fake
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newTestEnv(stdin string) *testEnv {
	fsys := afero.NewMemMapFs()
	fake := mock.NewFake(fsys)
	fake.AddPackage(link, &types.PackageInfo{
		PackageID: "pkg-1",
		KeyCode:   "abc123",
		Files:     []types.FileInfo{{FileID: "f1", FileName: "report.pdf", Size: 3, Parts: 1}},
	}, map[string][]byte{"f1": []byte("pdf")})

	te := &testEnv{fake: fake, stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	te.env = env{
		stdin:  strings.NewReader(stdin),
		stdout: te.stdout,
		stderr: te.stderr,
		fs:     fsys,
		newClient: func(*config.Config, afero.Fs, zerolog.Logger) types.Client {
			return fake
		},
	}
	return te
}

func (te *testEnv) run(args ...string) int {
	return run(context.Background(), args, te.env)
}

var creds = []string{"--host", "svc.example.com", "--api-key", "k", "--api-secret", "s", "-d", dest}

func TestRun_DownloadsLinkedPackage(t *testing.T) {
	te := newTestEnv("")

	code := te.run(append(creds, "--link", link)...)

	assert.Equal(t, 0, code, te.stderr.String())
	assert.Equal(t, "report.pdf\n", te.stdout.String())
	data, err := afero.ReadFile(te.fs, filepath.Join(dest, "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "pdf", string(data))
}

func TestRun_SecondRunPrintsNothing(t *testing.T) {
	te := newTestEnv("")
	require.Equal(t, 0, te.run(append(creds, "--link", link)...))
	te.stdout.Reset()

	assert.Equal(t, 0, te.run(append(creds, "--link", link)...))
	assert.Empty(t, te.stdout.String())
}

func TestRun_LegacyPositionalForm(t *testing.T) {
	te := newTestEnv("")

	code := te.run("-d", dest, "svc.example.com", "k", "s", link)

	assert.Equal(t, 0, code, te.stderr.String())
	assert.Equal(t, "report.pdf\n", te.stdout.String())
}

func TestRun_Stdin(t *testing.T) {
	te := newTestEnv("From: files@example.com\n\nYour package: " + link + "\n")

	code := te.run(append(creds, "--input", "-")...)

	assert.Equal(t, 0, code, te.stderr.String())
	assert.Equal(t, "report.pdf\n", te.stdout.String())
}

func TestRun_NoLinksIsSuccess(t *testing.T) {
	te := newTestEnv("")

	code := te.run(append(creds, "--text", "no links in here")...)

	assert.Equal(t, 0, code)
	assert.Empty(t, te.stdout.String())
	assert.Zero(t, te.fake.Calls("verify"))
}

func TestRun_MissingCredentials(t *testing.T) {
	te := newTestEnv("")

	code := te.run("--host", "", "--api-key", "", "--api-secret", "", "--link", link)

	assert.Equal(t, 1, code)
	assert.Contains(t, te.stderr.String(), "missing credentials")
	assert.Zero(t, te.fake.Calls("verify"))
}

func TestRun_InvalidCredentials(t *testing.T) {
	te := newTestEnv("")
	te.fake.AuthErr = failure.New(failure.Authentication, "verify credentials", failure.ErrAuthFailed)

	code := te.run(append(creds, "--link", link)...)

	assert.Equal(t, 1, code)
	assert.Empty(t, te.stdout.String())
	exists, _ := afero.Exists(te.fs, dest)
	assert.False(t, exists)
}

func TestRun_LinkWithoutKey(t *testing.T) {
	te := newTestEnv("")

	code := te.run(append(creds, "--link", "https://svc.example.com/pkg")...)

	assert.Equal(t, 1, code)
	assert.Zero(t, te.fake.Calls("verify"))
}

func TestRun_Help(t *testing.T) {
	te := newTestEnv("")

	assert.Equal(t, 0, te.run("--help"))
	assert.Contains(t, te.stderr.String(), "--api-key")
}

func TestRun_BadFlag(t *testing.T) {
	te := newTestEnv("")

	assert.Equal(t, 1, te.run("--workers", "zero"))
	assert.Contains(t, te.stderr.String(), "Usage:")
}

func TestRun_WritesReport(t *testing.T) {
	te := newTestEnv("")

	code := te.run(append(creds, "--link", link, "--report", "/reports/run.yaml")...)
	require.Equal(t, 0, code, te.stderr.String())

	data, err := afero.ReadFile(te.fs, "/reports/run.yaml")
	require.NoError(t, err)
	var r report.Report
	require.NoError(t, yaml.Unmarshal(data, &r))
	assert.Equal(t, 1, r.Totals.Downloaded)
	require.Len(t, r.Links, 1)
	assert.Equal(t, "pkg-1", r.Links[0].PackageID)
	assert.NotContains(t, r.Links[0].URL, "abc123")
}

func TestRun_FailureExitsNonZero(t *testing.T) {
	te := newTestEnv("")
	te.fake.FileErrs["f1"] = failure.Newf(failure.Transfer, "download report.pdf", "connection reset")

	code := te.run(append(creds, "--link", link)...)

	assert.Equal(t, 1, code)
	assert.Empty(t, te.stdout.String())
}
