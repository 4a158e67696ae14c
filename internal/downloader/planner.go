// Package downloader decides, per file of a package, whether to skip or fetch
// it and moves fetched files into the destination directory.
package downloader

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/sendgrab/sendgrab/internal/failure"
	"github.com/sendgrab/sendgrab/internal/pathutil"
	"github.com/sendgrab/sendgrab/internal/progress"
	"github.com/sendgrab/sendgrab/internal/retry"
	"github.com/sendgrab/sendgrab/internal/transfer/types"
)

// Status is the outcome of one file.
type Status string

const (
	StatusSkipped    Status = "skipped"
	StatusDownloaded Status = "downloaded"
	StatusFailed     Status = "failed"
)

// Outcome records what happened to one file of a package.
type Outcome struct {
	FileID   string
	FileName string
	Path     string
	Status   Status
	Bytes    int64
	Err      error
}

// Result holds one outcome per file, in package order.
type Result struct {
	PackageID string
	Outcomes  []Outcome
}

// Err returns the error of the first failed file.
func (r *Result) Err() error {
	if r == nil {
		return nil
	}
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			return o.Err
		}
	}
	return nil
}

// Count returns the number of outcomes with status s.
func (r *Result) Count(s Status) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Options configures a Planner.
type Options struct {
	Fs       afero.Fs
	Stdout   io.Writer
	Progress types.ProgressFunc
	Retry    retry.Config
	// Workers bounds concurrent file downloads. Values below 1 mean sequential.
	Workers int
	Logger  zerolog.Logger
}

// Planner is shared by every link of a run so that destination claims span
// packages.
type Planner struct {
	client   types.Client
	fs       afero.Fs
	progress types.ProgressFunc
	retry    retry.Config
	workers  int
	logger   zerolog.Logger

	outMu  sync.Mutex
	stdout io.Writer

	claimMu sync.Mutex
	claims  map[string]string
}

// New creates a planner that fetches through client.
func New(client types.Client, opts Options) *Planner {
	fsys := opts.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	sink := opts.Progress
	if sink == nil {
		sink = progress.Silent()
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	cfg := opts.Retry
	if cfg.MaxAttempts == 0 {
		cfg = retry.DefaultConfig()
	}

	return &Planner{
		client:   client,
		fs:       fsys,
		progress: sink,
		retry:    cfg,
		workers:  workers,
		logger:   opts.Logger.With().Str("component", "downloader").Logger(),
		stdout:   stdout,
		claims:   make(map[string]string),
	}
}

// Download fetches every file of pkg that is not yet present in destDir.
// Only a destination directory that cannot be created is returned as an
// error; per-file failures are recorded in the result.
func (p *Planner) Download(ctx context.Context, pkg *types.PackageInfo, destDir string) (*Result, error) {
	if pkg == nil {
		return nil, failure.Newf(failure.PackageRetrieval, "download", "no package info")
	}
	if err := pathutil.EnsureDir(p.fs, destDir); err != nil {
		return nil, err
	}

	res := &Result{
		PackageID: pkg.PackageID,
		Outcomes:  make([]Outcome, len(pkg.Files)),
	}

	pending := p.plan(pkg, destDir, res)
	if len(pending) == 0 {
		return res, nil
	}

	var g errgroup.Group
	g.SetLimit(p.workers)
	for _, i := range pending {
		o := &res.Outcomes[i]
		if err := ctx.Err(); err != nil {
			p.fail(o, failure.New(failure.Transfer, "download "+o.FileName, err))
			continue
		}
		file := pkg.Files[i]
		g.Go(func() error {
			p.fetch(ctx, pkg, file, destDir, o)
			return nil
		})
	}
	_ = g.Wait()

	return res, nil
}

// plan resolves and claims every destination and returns the indexes of the
// files that need fetching.
func (p *Planner) plan(pkg *types.PackageInfo, destDir string, res *Result) []int {
	var pending []int
	for i, file := range pkg.Files {
		o := &res.Outcomes[i]
		o.FileID = file.FileID
		o.FileName = file.FileName

		path, err := pathutil.Resolve(destDir, file.FileName)
		if err != nil {
			p.fail(o, err)
			continue
		}
		o.Path = path

		if err := p.claim(path, pkg.PackageID+"/"+file.FileID); err != nil {
			p.fail(o, err)
			continue
		}

		exists, err := pathutil.Exists(p.fs, path)
		if err != nil {
			p.fail(o, err)
			continue
		}
		if exists {
			o.Status = StatusSkipped
			p.logger.Info().Str("file", file.FileName).Msg("file already exists, skipping")
			continue
		}

		pending = append(pending, i)
	}
	return pending
}

func (p *Planner) claim(path, owner string) error {
	p.claimMu.Lock()
	defer p.claimMu.Unlock()

	if prev, ok := p.claims[path]; ok && prev != owner {
		return failure.New(failure.Filesystem, "claim destination", fmt.Errorf("%s: %w", path, failure.ErrPathConflict))
	}
	p.claims[path] = owner
	return nil
}

func (p *Planner) fetch(ctx context.Context, pkg *types.PackageInfo, file types.FileInfo, destDir string, o *Outcome) {
	if err := p.fs.MkdirAll(filepath.Dir(o.Path), 0755); err != nil {
		p.fail(o, failure.New(failure.Filesystem, "create directory", err))
		return
	}

	sink := p.progress
	if p.workers > 1 {
		sink = progress.Prefixed(sink, file.FileName)
	}

	p.logger.Debug().Str("file", file.FileName).Int64("size", file.Size).Msg("downloading")

	var staged string
	err := retry.Do(ctx, "download "+file.FileName, p.retry, func() error {
		var err error
		staged, err = p.client.DownloadFile(ctx, types.DownloadRequest{
			Package:    pkg,
			File:       file,
			StagingDir: destDir,
			Progress:   sink,
		})
		return err
	}, &p.logger)
	if err != nil {
		p.fail(o, err)
		return
	}

	var size int64
	if info, err := p.fs.Stat(staged); err == nil {
		size = info.Size()
	}

	if err := pathutil.MoveNoClobber(p.fs, staged, o.Path); err != nil {
		p.fail(o, err)
		return
	}

	o.Status = StatusDownloaded
	o.Bytes = size
	p.emit(file.FileName)
	p.logger.Info().Str("file", file.FileName).Int64("bytes", size).Msg("download complete")
}

func (p *Planner) fail(o *Outcome, err error) {
	o.Status = StatusFailed
	o.Err = err
	p.logger.Error().Err(err).Str("file", o.FileName).Msg("file failed")
}

// emit writes one whole stdout line per downloaded file.
func (p *Planner) emit(name string) {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	fmt.Fprintln(p.stdout, name)
}
