package sendsafely

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"

	"github.com/spf13/afero"

	"github.com/sendgrab/sendgrab/internal/crypto"
	"github.com/sendgrab/sendgrab/internal/failure"
	"github.com/sendgrab/sendgrab/internal/transfer/types"
)

// The service hands out download URLs for at most this many segments per call.
const segmentBatch = 25

type downloadURLsRequest struct {
	Checksum     string `json:"checksum"`
	StartSegment int    `json:"startSegment"`
	EndSegment   int    `json:"endSegment"`
}

type downloadURL struct {
	Part int    `json:"part"`
	URL  string `json:"url"`
}

type downloadURLsResult struct {
	envelope
	DownloadURLs []downloadURL `json:"downloadUrls"`
}

// DownloadFile fetches every segment of a file, decrypts it and appends the
// plaintext to a staging file. The staging file is removed on any failure.
func (c *Client) DownloadFile(ctx context.Context, req types.DownloadRequest) (string, error) {
	pkg, file := req.Package, req.File
	op := "download " + file.FileName
	if pkg == nil {
		return "", failure.Newf(failure.Transfer, op, "no package information")
	}

	passphrase, err := crypto.Passphrase(pkg.ServerSecret, pkg.KeyCode)
	if err != nil {
		return "", failure.New(failure.Transfer, op, err)
	}

	progress := req.Progress
	if progress == nil {
		progress = func(string, float64) {}
	}

	parts := file.Parts
	if parts < 1 {
		parts = 1
	}

	staged, err := afero.TempFile(c.fs, req.StagingDir, ".sendgrab-*.part")
	if err != nil {
		return "", failure.New(failure.Filesystem, op, err)
	}
	committed := false
	defer func() {
		if !committed {
			staged.Close()
			c.fs.Remove(staged.Name()) //nolint:errcheck // best effort
		}
	}()

	progress("Downloading", 0)
	done := 0
	for start := 1; start <= parts; start += segmentBatch {
		end := min(start+segmentBatch-1, parts)

		urls, err := c.downloadURLs(ctx, pkg, file.FileID, start, end)
		if err != nil {
			return "", c.classify(op, failure.Transfer, pkg.PackageID, err)
		}
		if len(urls) != end-start+1 {
			return "", failure.Newf(failure.Transfer, op, "expected %d segment URLs, got %d", end-start+1, len(urls))
		}

		for _, u := range urls {
			if err := c.fetchPart(ctx, u.URL, staged, passphrase); err != nil {
				return "", failure.New(failure.Transfer, op, fmt.Errorf("segment %d: %w", u.Part, err))
			}
			done++
			progress("Downloading", float64(done)/float64(parts)*100)
		}
	}

	if err := staged.Close(); err != nil {
		return "", failure.New(failure.Filesystem, op, err)
	}
	committed = true

	c.log.Debug().
		Str("fileId", file.FileID).
		Int("parts", parts).
		Str("staged", staged.Name()).
		Msg("file downloaded")

	return staged.Name(), nil
}

func (c *Client) downloadURLs(ctx context.Context, pkg *types.PackageInfo, fileID string, start, end int) ([]downloadURL, error) {
	endpoint := fmt.Sprintf("/package/%s/file/%s/download-urls/", url.PathEscape(pkg.PackageID), url.PathEscape(fileID))
	payload := downloadURLsRequest{
		Checksum:     crypto.Checksum(pkg.KeyCode, pkg.PackageCode),
		StartSegment: start,
		EndSegment:   end,
	}

	var res downloadURLsResult
	if err := c.doJSON(ctx, http.MethodPost, endpoint, payload, &res); err != nil {
		return nil, err
	}

	sort.Slice(res.DownloadURLs, func(i, j int) bool {
		return res.DownloadURLs[i].Part < res.DownloadURLs[j].Part
	})
	return res.DownloadURLs, nil
}

// fetchPart streams one encrypted segment from storage. Segment URLs are
// pre-signed, so the request carries no API signature.
func (c *Client) fetchPart(ctx context.Context, rawURL string, w io.Writer, passphrase []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	if _, err := crypto.Decrypt(w, resp.Body, passphrase); err != nil {
		return err
	}
	return nil
}
