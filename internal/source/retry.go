package source

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

// Policy bounds how an upstream call is retried. Each attempt gets its own
// timeout, doubling from BaseTimeout; Pause doubles the same way between
// attempts.
type Policy struct {
	Attempts    int
	BaseTimeout time.Duration
	MaxTimeout  time.Duration
	Pause       time.Duration
}

// DefaultPolicy is three attempts at 2s, 4s and 8s.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:    3,
		BaseTimeout: 2 * time.Second,
		MaxTimeout:  15 * time.Second,
		Pause:       100 * time.Millisecond,
	}
}

func (p Policy) timeout(attempt int) time.Duration {
	d := p.BaseTimeout << attempt
	if p.MaxTimeout > 0 && d > p.MaxTimeout {
		return p.MaxTimeout
	}
	return d
}

// Retryable reports whether err is a timeout or transport failure. Validation
// and other rejections are never retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrUnsupportedChain) {
		return false
	}
	if errors.Is(err, domain.ErrTransientUpstream) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Do runs fn under p. A cancelled parent context stops immediately and
// returns its error; exhausting the attempts on retryable failures returns a
// *domain.UpstreamError.
func Do[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := max(p.Attempts, 1)
	pause := p.Pause

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout(i))
		v, err := fn(attemptCtx)
		cancel()
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !Retryable(err) {
			return zero, err
		}
		lastErr = err

		if i < attempts-1 && pause > 0 {
			t := time.NewTimer(pause)
			select {
			case <-ctx.Done():
				t.Stop()
				return zero, ctx.Err()
			case <-t.C:
			}
			pause *= 2
		}
	}
	return zero, &domain.UpstreamError{Op: op, Attempts: attempts, Err: lastErr}
}
