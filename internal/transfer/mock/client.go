// Package mock provides test doubles for the transfer client contract.
package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sendgrab/sendgrab/internal/transfer/types"
)

// Compile-time checks.
var (
	_ types.Client = (*Client)(nil)
	_ types.Client = (*Fake)(nil)
)

// Client is a testify mock of types.Client.
type Client struct {
	mock.Mock
}

func (m *Client) VerifyCredentials(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *Client) PackageInfo(ctx context.Context, link string) (*types.PackageInfo, error) {
	args := m.Called(ctx, link)

	var info *types.PackageInfo
	if args.Get(0) != nil {
		info = args.Get(0).(*types.PackageInfo)
	}
	return info, args.Error(1)
}

func (m *Client) DownloadFile(ctx context.Context, req types.DownloadRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *Client) DeleteTempPackage(ctx context.Context, packageID string) error {
	args := m.Called(ctx, packageID)
	return args.Error(0)
}
