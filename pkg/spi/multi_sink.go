package spi

import (
	"context"

	"github.com/pkg/errors"
	"github.com/username/sidekick/pkg/core"
)

// MultiSink fans a checkpoint out to several sinks. Every sink is attempted
// even if an earlier one fails.
type MultiSink []CheckpointSink

var (
	_ CheckpointStore = MultiSink(nil)
	_ Rewinder        = MultiSink(nil)
)

// Record records the checkpoint in every sink and reports the first failure
func (m MultiSink) Record(ctx context.Context, checkpoint core.BlockRef) error {
	var first error
	failed := 0
	for _, s := range m {
		if err := s.Record(ctx, checkpoint); err != nil {
			failed++
			if first == nil {
				first = err
			}
		}
	}
	if first != nil {
		return errors.Wrapf(first, "%d of %d sinks failed", failed, len(m))
	}
	return nil
}

// Latest returns the answer of the first sink that can report one
func (m MultiSink) Latest(ctx context.Context) (*core.BlockRef, error) {
	for _, s := range m {
		if store, ok := s.(CheckpointStore); ok {
			return store.Latest(ctx)
		}
	}
	return nil, nil
}

// Rewind forwards to every sink implementing Rewinder
func (m MultiSink) Rewind(ctx context.Context, height uint64) error {
	var first error
	for _, s := range m {
		r, ok := s.(Rewinder)
		if !ok {
			continue
		}
		if err := r.Rewind(ctx, height); err != nil && first == nil {
			first = err
		}
	}
	return first
}
