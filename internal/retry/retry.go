// Package retry runs transfer operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sendgrab/sendgrab/internal/failure"
)

// Config configures the exponential backoff retry behavior.
// MaxAttempts counts the first try; 1 disables retries.
type Config struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Multiplier   float64
}

// DefaultConfig returns a policy that never retries.
func DefaultConfig() Config {
	return Config{
		InitialDelay: 2 * time.Second,
		MaxDelay:     time.Minute,
		MaxAttempts:  1,
		Multiplier:   2.0,
	}
}

// WithRetries returns DefaultConfig allowing n retries after the first attempt.
func WithRetries(n int) Config {
	cfg := DefaultConfig()
	if n > 0 {
		cfg.MaxAttempts = n + 1
	}
	return cfg
}

// Retryable reports whether err is worth another attempt. Only transfer
// failures qualify; a cancelled context never does.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return failure.Is(err, failure.Transfer)
}

// IsNetworkError checks if an error is likely due to network unavailability.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	var dnsErr *net.DNSError
	if errors.As(err, &netErr) || errors.As(err, &dnsErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	networkIndicators := []string{
		"connection refused",
		"no such host",
		"timeout",
		"network is unreachable",
		"no route to host",
		"connection reset",
		"unexpected eof",
		"temporary failure in name resolution",
	}
	for _, indicator := range networkIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// Do executes fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted.
func Do(ctx context.Context, name string, cfg Config, fn func() error, logger *zerolog.Logger) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().Str("operation", name).Int("attempt", attempt).Msg("operation succeeded after retry")
			}
			return nil
		}

		lastErr = err

		if !Retryable(err) {
			return err
		}

		if attempt == attempts {
			break
		}

		delay = waitAndBackoff(ctx, logger, name, attempt, attempts, cfg, delay, err)
		if ctx.Err() != nil {
			return lastErr
		}
	}

	if attempts > 1 {
		logger.Error().Err(lastErr).Str("operation", name).Int("attempts", attempts).
			Msg("operation failed after all retries")
	}
	return lastErr
}

func waitAndBackoff(ctx context.Context, logger *zerolog.Logger, name string, attempt, attempts int, cfg Config, delay time.Duration, err error) time.Duration {
	logger.Warn().
		Err(err).
		Str("operation", name).
		Int("attempt", attempt).
		Int("maxAttempts", attempts).
		Bool("network", IsNetworkError(err)).
		Dur("nextRetryIn", delay).
		Msg("transfer failed, will retry")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}

	next := time.Duration(float64(delay) * cfg.Multiplier)
	if next > cfg.MaxDelay {
		next = cfg.MaxDelay
	}
	return next
}
