// Package validator provides the contract-backed checkpoint attestation.
//
// The reference contract is expected to return combine(hash(h-2i), hash(h-i))
// for the checkpoint at height h with interval i. The byte layout of the
// combination is a protocol detail shared with the contract, so it is
// pluggable through Combiner.
package validator

import (
	"bytes"
	"context"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/username/sidekick/pkg/core"
	"github.com/username/sidekick/pkg/spi"
)

var log = logrus.WithField("prefix", "validator")

// Combiner folds the two prior checkpoint blocks into the value the oracle
// is expected to return. It must be deterministic and order-sensitive.
type Combiner func(older, newer core.BlockRef) []byte

// Keccak256Concat hashes the raw older hash followed by the raw newer hash
func Keccak256Concat(older, newer core.BlockRef) []byte {
	return crypto.Keccak256(older.Hash.Bytes(), newer.Hash.Bytes())
}

// ContractValidator attests a checkpoint by comparing the oracle contract's
// output against the combination of the two previous checkpoint blocks.
type ContractValidator struct {
	combine Combiner
}

var _ spi.Validator = (*ContractValidator)(nil)

// New creates a ContractValidator. A nil combiner selects Keccak256Concat.
func New(combine Combiner) *ContractValidator {
	if combine == nil {
		combine = Keccak256Concat
	}
	return &ContractValidator{combine: combine}
}

// Expected returns the value the oracle must produce for the checkpoint at height
func (v *ContractValidator) Expected(ctx context.Context, height uint64, reader spi.ChainReader, cfg core.CheckpointConfig) ([]byte, error) {
	if !cfg.HasHistory(height) {
		return nil, errors.Wrapf(core.ErrDataUnavailable,
			"checkpoint %d needs two prior checkpoints at interval %d", height, cfg.Interval)
	}

	older, err := reader.BlockAt(ctx, height-2*cfg.Interval)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read checkpoint %d", height-2*cfg.Interval)
	}
	newer, err := reader.BlockAt(ctx, height-cfg.Interval)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read checkpoint %d", height-cfg.Interval)
	}
	return v.combine(older, newer), nil
}

// Validate implements spi.Validator. All reads are pinned to explicit heights.
func (v *ContractValidator) Validate(ctx context.Context, height uint64, reader spi.ChainReader, oracle spi.OracleClient, cfg core.CheckpointConfig) (bool, error) {
	expected, err := v.Expected(ctx, height, reader, cfg)
	if err != nil {
		return false, err
	}

	code, err := reader.CodeAt(ctx, cfg.OracleTarget, height)
	if err != nil {
		return false, errors.Wrapf(err, "could not read oracle code at %d", height)
	}
	actual, err := oracle.Call(ctx, cfg.OracleTarget, code)
	if err != nil {
		if !errors.Is(err, core.ErrOracleUnavailable) && !errors.Is(err, context.Canceled) {
			err = core.OracleUnavailable(err)
		}
		return false, errors.Wrapf(err, "oracle call for checkpoint %d", height)
	}

	attested := bytes.Equal(expected, actual)
	log.WithFields(logrus.Fields{
		"height":   height,
		"expected": hexutil.Encode(expected),
		"actual":   hexutil.Encode(actual),
		"attested": attested,
	}).Debug("Compared oracle output")
	return attested, nil
}
