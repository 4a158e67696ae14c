// Package cleanup removes incomplete packages left behind by preparation failures.
package cleanup

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sendgrab/sendgrab/internal/failure"
)

// State is the handler state.
type State int

const (
	Normal State = iota
	Faulted
)

func (s State) String() string {
	if s == Faulted {
		return "faulted"
	}
	return "normal"
}

// Deleter removes a temporary package from the service.
type Deleter interface {
	DeleteTempPackage(ctx context.Context, packageID string) error
}

// Handler passes errors through and deletes the temporary package when the
// error is a preparation failure. Once faulted it stays faulted.
type Handler struct {
	deleter Deleter
	logger  zerolog.Logger

	mu      sync.Mutex
	state   State
	tracked string
	deleted map[string]bool
}

// New creates a handler in the Normal state.
func New(deleter Deleter, logger zerolog.Logger) *Handler {
	return &Handler{
		deleter: deleter,
		logger:  logger.With().Str("component", "cleanup").Logger(),
		deleted: make(map[string]bool),
	}
}

// Track registers the package currently being worked on, for preparation
// errors that do not carry a package id themselves.
func (h *Handler) Track(packageID string) {
	h.mu.Lock()
	h.tracked = packageID
	h.mu.Unlock()
}

// State returns the current state.
func (h *Handler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Handle returns err unchanged. A preparation failure first moves the handler
// to Faulted and issues a best-effort delete of the affected package.
func (h *Handler) Handle(ctx context.Context, err error) error {
	if err == nil || !failure.Is(err, failure.Preparation) {
		return err
	}

	h.mu.Lock()
	h.state = Faulted
	packageID := failure.PackageIDOf(err)
	if packageID == "" {
		packageID = h.tracked
	}
	already := packageID == "" || h.deleted[packageID]
	if !already {
		h.deleted[packageID] = true
	}
	h.mu.Unlock()

	if already {
		if packageID == "" {
			h.logger.Warn().Err(err).Msg("preparation failed before a package was created, nothing to clean up")
		}
		return err
	}

	// The run context may already be cancelled; the delete still gets a chance.
	delCtx := context.WithoutCancel(ctx)
	if delErr := h.deleter.DeleteTempPackage(delCtx, packageID); delErr != nil {
		h.logger.Warn().Err(delErr).Str("packageId", packageID).Msg("failed to delete temporary package")
	} else {
		h.logger.Info().Str("packageId", packageID).Msg("deleted temporary package")
	}

	return err
}
