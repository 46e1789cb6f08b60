package spi

import (
	"context"

	"github.com/pkg/errors"
	"github.com/username/sidekick/pkg/core"
	"github.com/username/sidekick/pkg/util"
)

func isPermanent(err error) bool {
	return errors.Is(err, core.ErrDataUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// RetryingChainReader wraps a ChainReader with retry logic.
// Missing blocks are reported immediately, never retried.
type RetryingChainReader struct {
	inner   ChainReader
	backoff *util.Backoff
}

// NewRetryingChainReader creates a new RetryingChainReader
func NewRetryingChainReader(inner ChainReader, backoff *util.Backoff) *RetryingChainReader {
	return &RetryingChainReader{
		inner:   inner,
		backoff: backoff.WithPermanent(isPermanent),
	}
}

// Inner returns the underlying ChainReader
func (r *RetryingChainReader) Inner() ChainReader {
	return r.inner
}

// HeadHeight returns the local chain height with retry
func (r *RetryingChainReader) HeadHeight(ctx context.Context) (uint64, error) {
	var height uint64

	err := r.backoff.Retry(ctx, func() error {
		var err error
		height, err = r.inner.HeadHeight(ctx)
		return err
	})

	return height, err
}

// BlockAt fetches the block at height with retry
func (r *RetryingChainReader) BlockAt(ctx context.Context, height uint64) (core.BlockRef, error) {
	var ref core.BlockRef

	err := r.backoff.Retry(ctx, func() error {
		var err error
		ref, err = r.inner.BlockAt(ctx, height)
		return err
	})

	return ref, err
}

// CodeAt fetches the code of target at height with retry
func (r *RetryingChainReader) CodeAt(ctx context.Context, target core.Address, height uint64) ([]byte, error) {
	var code []byte

	err := r.backoff.Retry(ctx, func() error {
		var err error
		code, err = r.inner.CodeAt(ctx, target, height)
		return err
	})

	return code, err
}

// RetryingOracleClient wraps an OracleClient with retry logic. Once retries
// are exhausted the error is reported as core.ErrOracleUnavailable.
type RetryingOracleClient struct {
	inner   OracleClient
	backoff *util.Backoff
}

// NewRetryingOracleClient creates a new RetryingOracleClient
func NewRetryingOracleClient(inner OracleClient, backoff *util.Backoff) *RetryingOracleClient {
	return &RetryingOracleClient{
		inner:   inner,
		backoff: backoff.WithPermanent(isPermanent),
	}
}

// Call executes the oracle call with retry
func (o *RetryingOracleClient) Call(ctx context.Context, target core.Address, payload []byte) ([]byte, error) {
	var out []byte

	err := o.backoff.Retry(ctx, func() error {
		var err error
		out, err = o.inner.Call(ctx, target, payload)
		return err
	})
	if err != nil && !errors.Is(err, core.ErrOracleUnavailable) && !isPermanent(err) {
		return nil, core.OracleUnavailable(err)
	}

	return out, err
}
