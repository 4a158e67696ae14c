package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/sendgrab/sendgrab/internal/config"
	"github.com/sendgrab/sendgrab/internal/downloader"
	"github.com/sendgrab/sendgrab/internal/grab"
	"github.com/sendgrab/sendgrab/internal/logger"
	"github.com/sendgrab/sendgrab/internal/metrics"
	"github.com/sendgrab/sendgrab/internal/progress"
	"github.com/sendgrab/sendgrab/internal/report"
	"github.com/sendgrab/sendgrab/internal/retry"
	"github.com/sendgrab/sendgrab/internal/transfer/sendsafely"
	"github.com/sendgrab/sendgrab/internal/transfer/types"
)

// env is everything run touches outside its arguments.
type env struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	fs     afero.Fs
	// newClient builds the transfer client; tests replace it.
	newClient func(cfg *config.Config, fsys afero.Fs, log zerolog.Logger) types.Client
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], env{
		stdin:     os.Stdin,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		fs:        afero.NewOsFs(),
		newClient: newSendSafelyClient,
	})
	stop()
	os.Exit(code)
}

func newSendSafelyClient(cfg *config.Config, fsys afero.Fs, log zerolog.Logger) types.Client {
	return sendsafely.NewFromConfig(&sendsafely.Config{
		Credentials: types.Credentials{
			Host:      cfg.Host,
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
		},
		Timeout:   cfg.Timeout,
		UserAgent: "sendgrab/" + config.Version,
		Fs:        fsys,
		Logger:    log,
	})
}

func run(ctx context.Context, args []string, e env) int {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
	}

	cfg, err := config.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		usage(e.stderr)
		return 0
	}
	if err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n\n", err)
		usage(e.stderr)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n\n", err)
		usage(e.stderr)
		return 1
	}

	runID := uuid.New().String()
	log := logger.New(logger.Config{
		Level:  cfg.LogLevel(),
		Format: cfg.Logging.Format,
		Out:    e.stderr,
		File:   cfg.LogFile,
	}).WithRun(runID)
	defer log.Close()

	log.Debug().Str("version", config.Version).Str("host", cfg.Host).Str("dest", cfg.Dest).Msg("starting sendgrab")

	input, err := readInput(cfg, e.stdin, e.fs)
	if err != nil {
		log.Error().Err(err).Msg("failed to read input")
		return 1
	}

	client := e.newClient(cfg, e.fs, log.Logger)
	m := metrics.New()

	planner := downloader.New(client, downloader.Options{
		Fs:       e.fs,
		Stdout:   e.stdout,
		Progress: progress.New(cfg.Verbose, e.stderr),
		Retry:    retry.WithRetries(cfg.Retries),
		Workers:  cfg.Workers,
		Logger:   log.Logger,
	})
	runner := grab.NewRunner(client, planner, grab.Options{
		DestDir:         cfg.Dest,
		ContinueOnError: cfg.KeepGoing,
		Metrics:         m,
		Logger:          log.Logger,
		RunID:           runID,
	})

	summary, runErr := runner.Run(ctx, input)

	if cfg.MetricsFile != "" {
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			log.Warn().Err(err).Str("path", cfg.MetricsFile).Msg("failed to write metrics")
		}
	}
	if cfg.Report != "" {
		if err := report.Write(e.fs, cfg.Report, report.Build(summary, runErr)); err != nil {
			log.Warn().Err(err).Str("path", cfg.Report).Msg("failed to write report")
		}
	}

	log.Info().
		Int("links", len(summary.Links)).
		Int("downloaded", summary.Count(downloader.StatusDownloaded)).
		Int("skipped", summary.Count(downloader.StatusSkipped)).
		Int("failed", summary.Count(downloader.StatusFailed)).
		Msg("run finished")

	if runErr != nil {
		log.Error().Err(runErr).Msg("sendgrab failed")
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: sendgrab [flags] [text containing package links]\n")
	fmt.Fprintf(w, "       sendgrab HOST API_KEY API_SECRET PACKAGE_LINK\n\n")
	fmt.Fprintf(w, "Downloads every package linked in the input into the destination directory.\n")
	fmt.Fprintf(w, "Names of newly downloaded files are printed to stdout, one per line.\n\n")
	fmt.Fprintf(w, "Flags:\n%s", config.NewFlagSet().FlagUsages())
	fmt.Fprintf(w, "\nEvery flag can also be set as SENDGRAB_<FLAG> in the environment or a .env file.\n")
}
