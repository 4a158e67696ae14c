// Package grab drives one invocation: find links, authenticate once, then
// fetch every package into the destination directory.
package grab

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sendgrab/sendgrab/internal/cleanup"
	"github.com/sendgrab/sendgrab/internal/downloader"
	"github.com/sendgrab/sendgrab/internal/failure"
	"github.com/sendgrab/sendgrab/internal/links"
	"github.com/sendgrab/sendgrab/internal/metrics"
	"github.com/sendgrab/sendgrab/internal/transfer/types"
)

// Input is the text to scan for links.
type Input struct {
	Data   []byte
	Format links.Format
}

// LinkResult is what happened to one link.
type LinkResult struct {
	Link      links.Link
	PackageID string
	Result    *downloader.Result
	Err       error
}

// Summary describes a whole run.
type Summary struct {
	RunID      string
	Account    string
	StartedAt  time.Time
	FinishedAt time.Time
	Links      []LinkResult
}

// Count totals file outcomes with status s over every link.
func (s *Summary) Count(status downloader.Status) int {
	n := 0
	for _, l := range s.Links {
		n += l.Result.Count(status)
	}
	return n
}

// Failed returns the number of links that ended with an error.
func (s *Summary) Failed() int {
	n := 0
	for _, l := range s.Links {
		if l.Err != nil {
			n++
		}
	}
	return n
}

// Options configures a Runner.
type Options struct {
	DestDir string
	// ContinueOnError keeps processing the remaining links after one fails.
	ContinueOnError bool
	// Metrics is optional.
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	RunID   string
}

// Runner wires the transfer client, the planner and the cleanup handler.
type Runner struct {
	client          types.Client
	planner         *downloader.Planner
	cleanup         *cleanup.Handler
	metrics         *metrics.Metrics
	logger          zerolog.Logger
	destDir         string
	continueOnError bool
	runID           string
	now             func() time.Time
}

// NewRunner creates a runner.
func NewRunner(client types.Client, planner *downloader.Planner, opts Options) *Runner {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	logger := opts.Logger.With().Str("component", "grab").Str("run_id", runID).Logger()

	return &Runner{
		client:          client,
		planner:         planner,
		cleanup:         cleanup.New(client, logger),
		metrics:         opts.Metrics,
		logger:          logger,
		destDir:         opts.DestDir,
		continueOnError: opts.ContinueOnError,
		runID:           runID,
		now:             time.Now,
	}
}

// CleanupState reports whether a preparation failure was seen during the run.
func (r *Runner) CleanupState() cleanup.State {
	return r.cleanup.State()
}

// Run processes every link found in in. The returned error is the first
// failure; the summary is always non-nil.
func (r *Runner) Run(ctx context.Context, in Input) (*Summary, error) {
	summary := &Summary{RunID: r.runID, StartedAt: r.now()}
	defer func() {
		summary.FinishedAt = r.now()
		if r.metrics != nil {
			r.metrics.ObserveRun(summary.FinishedAt.Sub(summary.StartedAt))
		}
	}()

	found, err := links.ExtractFormat(in.Data, in.Format)
	if err != nil {
		r.recordError(err)
		return summary, err
	}
	if len(found) == 0 {
		r.logger.Info().Msg("no package links found")
		return summary, nil
	}
	r.logger.Debug().Int("links", len(found)).Msg("package links found")

	account, err := r.client.VerifyCredentials(ctx)
	if err != nil {
		r.recordError(err)
		return summary, err
	}
	summary.Account = account
	r.logger.Info().Str("account", account).Msg("connected")

	var firstErr error
	for _, link := range found {
		if err := ctx.Err(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			break
		}

		lr := r.processLink(ctx, link)
		summary.Links = append(summary.Links, lr)
		r.record(lr)

		if lr.Err == nil {
			continue
		}
		r.logger.Error().Err(lr.Err).Str("link", link.Redacted()).Str("kind", failure.KindOf(lr.Err).String()).Msg("package failed")
		if firstErr == nil {
			firstErr = lr.Err
		}
		if !r.continueOnError {
			break
		}
	}

	return summary, firstErr
}

func (r *Runner) processLink(ctx context.Context, link links.Link) LinkResult {
	lr := LinkResult{Link: link}
	// A failure before PackageInfo succeeds must not fall back to the
	// package of an earlier link.
	r.cleanup.Track("")
	defer r.cleanup.Track("")

	pkg, err := r.client.PackageInfo(ctx, link.String())
	if err != nil {
		lr.Err = r.cleanup.Handle(ctx, err)
		return lr
	}
	lr.PackageID = pkg.PackageID
	r.cleanup.Track(pkg.PackageID)

	r.logger.Debug().
		Str("link", link.Redacted()).
		Str("packageId", pkg.PackageID).
		Int("files", len(pkg.Files)).
		Msg("package resolved")

	res, err := r.planner.Download(ctx, pkg, r.destDir)
	lr.Result = res
	if err != nil {
		lr.Err = r.cleanup.Handle(ctx, err)
		return lr
	}

	for _, o := range res.Outcomes {
		if o.Status == downloader.StatusFailed {
			r.cleanup.Handle(ctx, o.Err) //nolint:errcheck // the error is reported through res.Err
		}
	}
	lr.Err = res.Err()
	return lr
}

func (r *Runner) record(lr LinkResult) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordLink(lr.Err)
	r.metrics.RecordError(lr.Err)
	if lr.Result == nil {
		return
	}
	for _, o := range lr.Result.Outcomes {
		r.metrics.RecordFile(string(o.Status), o.Bytes)
	}
}

func (r *Runner) recordError(err error) {
	if r.metrics != nil {
		r.metrics.RecordError(err)
	}
}
