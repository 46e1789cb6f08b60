package spi

import (
	"context"

	"github.com/username/sidekick/pkg/core"
)

// ChainReader gives read-only access to the local chain
type ChainReader interface {
	// HeadHeight returns the current local chain height
	HeadHeight(ctx context.Context) (uint64, error)

	// BlockAt returns the block at height. It fails with core.ErrDataUnavailable
	// if the block is not present locally.
	BlockAt(ctx context.Context, height uint64) (core.BlockRef, error)

	// CodeAt returns the bytecode of target as observed at height
	CodeAt(ctx context.Context, target core.Address, height uint64) ([]byte, error)
}

// OracleClient executes read-only calls against the reference predicate
type OracleClient interface {
	Call(ctx context.Context, target core.Address, payload []byte) ([]byte, error)
}

// ChainController exposes the two chain-mutating operations the watcher needs
type ChainController interface {
	// WaitBlocks blocks until the local height has advanced by n
	WaitBlocks(ctx context.Context, n uint64) error

	// RewindTo forcibly sets the local head to height, discarding descendants.
	// It fails with core.ErrRewindConflict if height is protected.
	RewindTo(ctx context.Context, height uint64) error
}

// CheckpointSink receives committed checkpoints. Recording is best-effort.
type CheckpointSink interface {
	Record(ctx context.Context, checkpoint core.BlockRef) error
}

// CheckpointStore is a sink that can report what it has recorded
type CheckpointStore interface {
	CheckpointSink

	// Latest returns the highest recorded checkpoint, or nil if none
	Latest(ctx context.Context) (*core.BlockRef, error)
}

// Rewinder is implemented by sinks that drop records above a rollback target
type Rewinder interface {
	Rewind(ctx context.Context, height uint64) error
}

// Validator decides whether the checkpoint at height is attested.
// It must return core.ErrDataUnavailable instead of false when it cannot check.
type Validator interface {
	Validate(ctx context.Context, height uint64, reader ChainReader, oracle OracleClient, cfg core.CheckpointConfig) (bool, error)
}

// ValidatorFunc adapts a function to the Validator interface
type ValidatorFunc func(ctx context.Context, height uint64, reader ChainReader, oracle OracleClient, cfg core.CheckpointConfig) (bool, error)

func (f ValidatorFunc) Validate(ctx context.Context, height uint64, reader ChainReader, oracle OracleClient, cfg core.CheckpointConfig) (bool, error) {
	return f(ctx, height, reader, oracle, cfg)
}
