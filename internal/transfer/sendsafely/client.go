// Package sendsafely implements the transfer client against the SendSafely REST API.
package sendsafely

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/sendgrab/sendgrab/internal/failure"
	"github.com/sendgrab/sendgrab/internal/transfer/types"
)

var _ types.Client = (*Client)(nil)

const (
	apiPrefix        = "/api/v2.0"
	timestampLayout  = "2006-01-02T15:04:05-0700"
	defaultTimeout   = 30 * time.Minute
	responseSuccess  = "SUCCESS"
	headerAPIKey     = "ss-api-key"
	headerTimestamp  = "ss-request-timestamp"
	headerSignature  = "ss-request-signature"
	maxErrorBodySize = 4096
)

// Response codes that mean the package could not be prepared. The service
// leaves an incomplete package behind in these cases.
var preparationCodes = map[string]struct{}{
	"INVALID_EMAIL":               {},
	"INVALID_PHONE":               {},
	"INVALID_RECIPIENT":           {},
	"APPROVER_REQUIRED":           {},
	"PACKAGE_FINALIZATION_FAILED": {},
	"FILE_UPLOAD_FAILED":          {},
}

// Config holds the configuration for a SendSafely client.
type Config struct {
	Credentials types.Credentials
	Timeout     time.Duration
	UserAgent   string
	// Fs receives staged downloads. Defaults to the OS filesystem.
	Fs     afero.Fs
	Logger zerolog.Logger
}

// Client talks to one SendSafely host with one API key.
type Client struct {
	creds      types.Credentials
	baseURL    string
	userAgent  string
	httpClient *http.Client
	fs         afero.Fs
	log        zerolog.Logger
	now        func() time.Time
}

type envelope struct {
	Response string `json:"response"`
	Message  string `json:"message"`
}

type userResult struct {
	envelope
	Email string `json:"email"`
}

type packageResult struct {
	envelope
	PackageID    string      `json:"packageId"`
	PackageCode  string      `json:"packageCode"`
	ServerSecret string      `json:"serverSecret"`
	Files        []fileEntry `json:"files"`
}

type fileEntry struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	Parts    int    `json:"parts"`
}

// apiError is a non-success answer from the service.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) rejected() bool {
	return e.Code == "AUTHENTICATION_FAILED" || e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

func (e *apiError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("API error %s: %s", e.Code, e.Message)
	case e.Code != "":
		return "API error " + e.Code
	default:
		return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Message)
	}
}

// NewFromConfig creates a client from a Config.
func NewFromConfig(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	fsys := cfg.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "sendgrab"
	}

	return &Client{
		creds:     cfg.Credentials,
		baseURL:   baseURL(cfg.Credentials.Host),
		userAgent: ua,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		fs:  fsys,
		log: cfg.Logger.With().Str("component", "sendsafely").Logger(),
		now: time.Now,
	}
}

func baseURL(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return host + apiPrefix
}

// VerifyCredentials returns the email of the account behind the API key.
func (c *Client) VerifyCredentials(ctx context.Context) (string, error) {
	if !c.creds.Complete() {
		return "", failure.New(failure.Argument, "verify credentials", failure.ErrMissingCredentials)
	}

	var res userResult
	if err := c.doJSON(ctx, http.MethodGet, "/user/", nil, &res); err != nil {
		return "", c.classify("verify credentials", failure.Authentication, "", err)
	}
	if res.Email == "" {
		return "", failure.Newf(failure.Authentication, "verify credentials", "service returned no account email")
	}
	return res.Email, nil
}

// PackageInfo resolves a package link.
func (c *Client) PackageInfo(ctx context.Context, link string) (*types.PackageInfo, error) {
	packageCode, keyCode, err := ParseLink(link)
	if err != nil {
		return nil, err
	}

	var res packageResult
	endpoint := "/package/" + url.PathEscape(packageCode) + "/"
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &res); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusNotFound || apiErr.Code == "UNKNOWN_PACKAGE") {
			return nil, failure.New(failure.PackageRetrieval, "package info", fmt.Errorf("%s: %w", packageCode, failure.ErrNotFound))
		}
		return nil, c.classify("package info", failure.PackageRetrieval, "", err)
	}

	if res.PackageCode == "" {
		res.PackageCode = packageCode
	}
	info := &types.PackageInfo{
		PackageID:    res.PackageID,
		PackageCode:  res.PackageCode,
		KeyCode:      keyCode,
		ServerSecret: res.ServerSecret,
		Files:        make([]types.FileInfo, 0, len(res.Files)),
	}
	for _, f := range res.Files {
		info.Files = append(info.Files, types.FileInfo{
			FileID:   f.FileID,
			FileName: f.FileName,
			Size:     f.FileSize,
			Parts:    f.Parts,
		})
	}

	c.log.Debug().
		Str("packageId", info.PackageID).
		Int("files", len(info.Files)).
		Msg("package info retrieved")

	return info, nil
}

// DeleteTempPackage removes an incomplete package.
func (c *Client) DeleteTempPackage(ctx context.Context, packageID string) error {
	endpoint := "/package/" + url.PathEscape(packageID) + "/temp/"
	if err := c.doJSON(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		return c.classify("delete temp package", failure.PackageRetrieval, packageID, err)
	}
	return nil
}

// classify maps a request error onto a failure kind. Preparation codes win
// over the operation's default kind and carry the package id when known.
func (c *Client) classify(op string, kind failure.Kind, packageID string, err error) error {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		if _, ok := preparationCodes[apiErr.Code]; ok {
			return failure.New(failure.Preparation, op, err).WithPackage(packageID)
		}
		if kind == failure.Authentication && apiErr.rejected() {
			return failure.New(kind, op, fmt.Errorf("%w: %v", failure.ErrAuthFailed, err))
		}
	}
	return failure.New(kind, op, err)
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
	}

	respBody, err := c.doRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("failed to parse response envelope: %w", err)
	}
	if env.Response != responseSuccess {
		return &apiError{Status: http.StatusOK, Code: env.Response, Message: env.Message}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	fullURL := c.baseURL + endpoint
	u, err := url.Parse(fullURL)
	if err != nil {
		return nil, fmt.Errorf("failed to build request URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	timestamp := c.now().UTC().Format(timestampLayout)
	req.Header.Set(headerAPIKey, c.creds.APIKey)
	req.Header.Set(headerTimestamp, timestamp)
	req.Header.Set(headerSignature, Sign(c.creds.APIKey, c.creds.APISecret, u.EscapedPath(), timestamp, body))
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		var env envelope
		if json.Unmarshal(respBody, &env) == nil && env.Response != "" {
			apiErr.Code = env.Response
			apiErr.Message = env.Message
		} else {
			apiErr.Message = truncate(string(respBody), maxErrorBodySize)
		}
		return nil, apiErr
	}

	return respBody, nil
}

// Sign computes the request signature: HMAC-SHA256 keyed by the API secret
// over the API key, request path, timestamp and body.
func Sign(apiKey, apiSecret, path, timestamp string, body []byte) string {
	h := hmac.New(sha256.New, []byte(apiSecret))
	h.Write([]byte(apiKey))
	h.Write([]byte(path))
	h.Write([]byte(timestamp))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
