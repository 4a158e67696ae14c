package main

import (
	"io"

	"github.com/spf13/afero"

	"github.com/sendgrab/sendgrab/internal/config"
	"github.com/sendgrab/sendgrab/internal/failure"
	"github.com/sendgrab/sendgrab/internal/grab"
	"github.com/sendgrab/sendgrab/internal/links"
)

// readInput picks the text to scan: --link, --text, --input, then positional text.
func readInput(cfg *config.Config, stdin io.Reader, fsys afero.Fs) (grab.Input, error) {
	format, _ := links.ParseFormat(cfg.Format)

	switch {
	case cfg.Link != "":
		found, err := links.Extract(cfg.Link)
		if err != nil {
			return grab.Input{}, err
		}
		if len(found) != 1 {
			return grab.Input{}, failure.Newf(failure.LinkParse, "parse link", "%s: %w", links.Link(cfg.Link).Redacted(), failure.ErrInvalidLink)
		}
		return grab.Input{Data: []byte(found[0]), Format: links.FormatText}, nil
	case cfg.Text != "":
		return grab.Input{Data: []byte(cfg.Text), Format: format}, nil
	case cfg.Input == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return grab.Input{}, failure.New(failure.Argument, "read stdin", err)
		}
		return grab.Input{Data: data, Format: format}, nil
	case cfg.Input != "":
		data, err := afero.ReadFile(fsys, cfg.Input)
		if err != nil {
			return grab.Input{}, failure.New(failure.Argument, "read input", err)
		}
		return grab.Input{Data: data, Format: format}, nil
	default:
		return grab.Input{Format: format}, nil
	}
}
