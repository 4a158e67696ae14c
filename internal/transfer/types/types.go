// Package types defines the contract between sendgrab and a package transfer service.
package types

import (
	"context"
)

// Credentials identify the account used to talk to the service. The values
// are opaque and passed through to the client unchanged.
type Credentials struct {
	Host      string
	APIKey    string
	APISecret string
}

// Complete reports whether every field is set.
func (c Credentials) Complete() bool {
	return c.Host != "" && c.APIKey != "" && c.APISecret != ""
}

// ProgressFunc receives progress events for one file. Percent is 0-100.
type ProgressFunc func(stage string, percent float64)

// Client is the capability set sendgrab needs from a transfer service.
// Implementations return errors classified with the failure package:
//
//	VerifyCredentials  failure.Authentication
//	PackageInfo        failure.PackageRetrieval, failure.LinkParse
//	DownloadFile       failure.Transfer
//
// Any of them may also return failure.Preparation.
type Client interface {
	// VerifyCredentials checks the configured credentials and returns the account email.
	VerifyCredentials(ctx context.Context) (string, error)

	// PackageInfo resolves a package link into its metadata.
	PackageInfo(ctx context.Context, link string) (*PackageInfo, error)

	// DownloadFile fetches and decrypts one file into a staging file and
	// returns its path. The caller owns the staged file.
	DownloadFile(ctx context.Context, req DownloadRequest) (string, error)

	// DeleteTempPackage removes an incomplete package from the account.
	DeleteTempPackage(ctx context.Context, packageID string) error
}

// PackageInfo describes a remote package.
type PackageInfo struct {
	PackageID   string `json:"packageId" yaml:"packageId"`
	PackageCode string `json:"packageCode" yaml:"packageCode"`
	// KeyCode comes from the link fragment and never leaves the client.
	KeyCode string `json:"-" yaml:"-"`
	// ServerSecret is the service's half of the decryption passphrase.
	ServerSecret string     `json:"-" yaml:"-"`
	Files        []FileInfo `json:"files" yaml:"files"`
}

// FileInfo describes one file of a package. FileName is declared by the
// sender and must be treated as untrusted.
type FileInfo struct {
	FileID   string `json:"fileId" yaml:"fileId"`
	FileName string `json:"fileName" yaml:"fileName"`
	Size     int64  `json:"fileSize" yaml:"size"`
	Parts    int    `json:"parts" yaml:"parts"`
}

// DownloadRequest asks the client for one file.
type DownloadRequest struct {
	Package *PackageInfo
	File    FileInfo
	// StagingDir is where the staged file is created. It should be on the same
	// filesystem as the destination so the final move is a rename.
	StagingDir string
	Progress   ProgressFunc
}
