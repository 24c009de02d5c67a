package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config configures retry behavior with exponential backoff
type Config struct {
	MaxAttempts int           `json:"max_attempts"` // Total attempts including the first (default: 4)
	BaseDelay   time.Duration `json:"base_delay"`   // Delay before the second attempt (default: 1s)
	MaxDelay    time.Duration `json:"max_delay"`    // Cap on the delay between attempts (default: 30s)
	Multiplier  float64       `json:"multiplier"`   // Exponential backoff multiplier (default: 2.0)
	Jitter      bool          `json:"jitter"`       // Add random jitter to prevent thundering herd (default: true)
}

// Result contains information about the retry operation
type Result struct {
	Attempts      int           `json:"attempts"`       // Attempts actually made
	TotalDuration time.Duration `json:"total_duration"` // Time spent across all attempts
	LastError     error         `json:"-"`              // Last error encountered
	Success       bool          `json:"success"`        // Whether the operation eventually succeeded
}

// Err returns the terminal error of a failed run, nil on success.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return r.LastError
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 4,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// RegistrationConfig returns the retry configuration for Trello webhook
// registration calls. Registration is not latency sensitive, so it tolerates
// longer waits before giving a board up as unregistered.
func RegistrationConfig(maxAttempts int, baseDelay time.Duration) Config {
	cfg := DefaultConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if baseDelay > 0 {
		cfg.BaseDelay = baseDelay
	}
	return cfg
}

// DeliveryConfig returns the retry configuration for notification delivery.
// Delivery runs inside the fan-out path, so attempts are few and delays
// short; a channel that keeps failing is reported, not waited on.
func DeliveryConfig(extraRetries int) Config {
	attempts := extraRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	return Config{
		MaxAttempts: attempts,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// Do executes op with exponential backoff until it succeeds, attempts are
// exhausted, or ctx is cancelled. The op receives the retry context so it
// can bound its own calls.
func Do(ctx context.Context, cfg Config, name string, op func(ctx context.Context) error) Result {
	start := time.Now()
	result := Result{}

	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result.Attempts = attempt + 1

		err := op(ctx)
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(start)
			if attempt > 0 {
				log.Debug().Str("op", name).Int("attempts", result.Attempts).
					Dur("elapsed", result.TotalDuration).Msg("operation succeeded after retry")
			}
			return result
		}

		result.LastError = err

		// Terminal errors and exhausted attempts end the loop immediately.
		if attempt >= cfg.MaxAttempts-1 || !IsRetryable(err) {
			result.TotalDuration = time.Since(start)
			log.Debug().Str("op", name).Int("attempts", result.Attempts).
				Err(err).Msg("operation failed")
			return result
		}

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result
		}

		delay := calculateDelay(cfg, attempt)
		log.Debug().Str("op", name).Int("attempt", attempt+1).
			Dur("delay", delay).Err(err).Msg("operation failed, retrying")

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result
		case <-time.After(delay):
		}
	}

	result.TotalDuration = time.Since(start)
	return result
}

// calculateDelay calculates the delay for the next retry attempt using exponential backoff
func calculateDelay(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt))

	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.Jitter {
		// Up to 10% random jitter either way
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(cfg.BaseDelay)
		}
	}

	return time.Duration(delay)
}

// Retryable marks an error as transient regardless of its message.
type Retryable struct {
	Err error
}

func (r *Retryable) Error() string { return r.Err.Error() }
func (r *Retryable) Unwrap() error { return r.Err }

// Terminal marks an error as permanent: retrying cannot help.
type Terminal struct {
	Err error
}

func (t *Terminal) Error() string { return t.Err.Error() }
func (t *Terminal) Unwrap() error { return t.Err }

// IsRetryable reports whether err is worth another attempt. Typed markers
// win; otherwise a small set of network failure substrings decides, the same
// heuristic the upstream HTTP clients rely on.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var term *Terminal
	if errors.As(err, &term) {
		return false
	}
	var retr *Retryable
	if errors.As(err, &retr) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"no such host",
		"network unreachable",
		"broken pipe",
		"context deadline exceeded",
	}

	for _, marker := range retryableErrors {
		if strings.Contains(errStr, marker) {
			return true
		}
	}

	return false
}
