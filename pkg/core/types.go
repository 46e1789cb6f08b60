package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Hash represents a 32-byte block hash
type Hash = common.Hash

// Address identifies the oracle contract queried at every checkpoint
type Address = common.Address

// BlockRef is an immutable reference to a block on the local chain.
// Instances are produced by a ChainReader and fetched fresh per decision.
type BlockRef struct {
	Height uint64 `json:"block"`
	Hash   Hash   `json:"hash"`
}

func (b BlockRef) String() string {
	return fmt.Sprintf("#%d(%s)", b.Height, b.Hash.TerminalString())
}

// CheckpointConfig is fixed at startup and read-only for the lifetime of a watcher
type CheckpointConfig struct {
	// Interval is the number of blocks between two checkpoints
	Interval uint64
	// OracleTarget is the contract whose output attests each checkpoint
	OracleTarget Address
	// SkipMissingHistory turns a DataUnavailable boundary into a logged skip
	// instead of a fatal error.
	SkipMissingHistory bool
}

// Validate rejects configurations the scheduler cannot run with
func (c CheckpointConfig) Validate() error {
	if c.Interval == 0 {
		return errors.Wrap(ErrConfig, "checkpoint interval must be positive")
	}
	if c.OracleTarget == (Address{}) {
		return errors.Wrap(ErrConfig, "oracle target is unset")
	}
	return nil
}

// IsBoundary reports whether height is a checkpoint height. Genesis never is.
func (c CheckpointConfig) IsBoundary(height uint64) bool {
	return height > 0 && height%c.Interval == 0
}

// Distance returns the number of blocks from height to the next boundary
func (c CheckpointConfig) Distance(height uint64) uint64 {
	if height == 0 {
		return c.Interval
	}
	return c.Interval - height%c.Interval
}

// HasHistory reports whether the two prior checkpoints of height exist
func (c CheckpointConfig) HasHistory(height uint64) bool {
	return height >= 2*c.Interval
}

// Outcome is the result of evaluating one checkpoint boundary.
// It is either a Success or a Failure.
type Outcome interface {
	Height() uint64
	outcome()
}

// Success carries the attested checkpoint block
type Success struct {
	Checkpoint BlockRef
}

func (s Success) Height() uint64 { return s.Checkpoint.Height }
func (Success) outcome()         {}

// Failure carries the rejected height and the height the chain is rewound to
type Failure struct {
	AttemptedHeight uint64
	RollbackTarget  uint64
}

func (f Failure) Height() uint64 { return f.AttemptedHeight }
func (Failure) outcome()         {}
