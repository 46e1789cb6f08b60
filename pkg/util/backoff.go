package util

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "util")

// Backoff implements exponential backoff
type Backoff struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Permanent reports errors that must not be retried. Nil retries everything.
	Permanent func(error) bool
}

// NewBackoff creates a new Backoff instance
func NewBackoff(maxRetries int, baseDelay time.Duration) *Backoff {
	return &Backoff{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		MaxDelay:   30 * time.Second,
	}
}

// WithPermanent returns a copy of b that gives up immediately on errors matched by fn
func (b *Backoff) WithPermanent(fn func(error) bool) *Backoff {
	cp := *b
	cp.Permanent = fn
	return &cp
}

// Retry executes the operation with exponential backoff
func (b *Backoff) Retry(ctx context.Context, op func() error) error {
	var err error
	for i := 0; i <= b.MaxRetries; i++ {
		if err = op(); err == nil {
			return nil
		}
		if b.Permanent != nil && b.Permanent(err) {
			return err
		}

		if i == b.MaxRetries {
			break
		}

		delay := b.delay(i)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			log.WithError(err).WithFields(logrus.Fields{
				"attempt": i + 1,
				"max":     b.MaxRetries,
			}).Debug("Retrying after error")
		}
	}
	return errors.Wrapf(err, "operation failed after %d retries", b.MaxRetries)
}

func (b *Backoff) delay(attempt int) time.Duration {
	delay := time.Duration(math.Pow(2, float64(attempt))) * b.BaseDelay
	if b.MaxDelay > 0 && delay > b.MaxDelay {
		delay = b.MaxDelay
	}
	return delay
}
