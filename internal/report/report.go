// Package report writes a YAML record of a run.
package report

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/sendgrab/sendgrab/internal/downloader"
	"github.com/sendgrab/sendgrab/internal/failure"
	"github.com/sendgrab/sendgrab/internal/grab"
	"github.com/sendgrab/sendgrab/internal/pathutil"
)

// Report is the serialized form of a grab.Summary. Links are redacted so the
// file never contains key codes.
type Report struct {
	RunID      string    `yaml:"runId"`
	Account    string    `yaml:"account,omitempty"`
	StartedAt  time.Time `yaml:"startedAt"`
	FinishedAt time.Time `yaml:"finishedAt"`
	Totals     Totals    `yaml:"totals"`
	Error      string    `yaml:"error,omitempty"`
	Links      []Link    `yaml:"links"`
}

type Totals struct {
	Links      int `yaml:"links"`
	Failed     int `yaml:"failedLinks"`
	Downloaded int `yaml:"downloaded"`
	Skipped    int `yaml:"skipped"`
	Errors     int `yaml:"failedFiles"`
}

type Link struct {
	URL       string `yaml:"url"`
	PackageID string `yaml:"packageId,omitempty"`
	Error     string `yaml:"error,omitempty"`
	Kind      string `yaml:"kind,omitempty"`
	Files     []File `yaml:"files,omitempty"`
}

type File struct {
	Name   string `yaml:"name"`
	Status string `yaml:"status"`
	Path   string `yaml:"path,omitempty"`
	Bytes  int64  `yaml:"bytes,omitempty"`
	Error  string `yaml:"error,omitempty"`
}

// Build converts a run summary; runErr is the error the run ended with.
func Build(s *grab.Summary, runErr error) *Report {
	r := &Report{
		RunID:      s.RunID,
		Account:    s.Account,
		StartedAt:  s.StartedAt.UTC(),
		FinishedAt: s.FinishedAt.UTC(),
		Links:      make([]Link, 0, len(s.Links)),
		Totals: Totals{
			Links:      len(s.Links),
			Failed:     s.Failed(),
			Downloaded: s.Count(downloader.StatusDownloaded),
			Skipped:    s.Count(downloader.StatusSkipped),
			Errors:     s.Count(downloader.StatusFailed),
		},
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}

	for _, lr := range s.Links {
		l := Link{URL: lr.Link.Redacted(), PackageID: lr.PackageID}
		if lr.Err != nil {
			l.Error = lr.Err.Error()
			l.Kind = failure.KindOf(lr.Err).String()
		}
		if lr.Result != nil {
			for _, o := range lr.Result.Outcomes {
				f := File{Name: o.FileName, Status: string(o.Status), Path: pathutil.NormalizePath(o.Path), Bytes: o.Bytes}
				if o.Err != nil {
					f.Error = o.Err.Error()
				}
				l.Files = append(l.Files, f)
			}
		}
		r.Links = append(r.Links, l)
	}
	return r
}

// Write encodes r as YAML at path.
func Write(fsys afero.Fs, path string, r *Report) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := afero.WriteFile(fsys, path, data, 0644); err != nil {
		return failure.New(failure.Filesystem, "write report", err)
	}
	return nil
}
