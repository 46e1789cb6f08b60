// Package memory provides an in-process simulated chain that satisfies the
// ChainReader, ChainController and OracleClient contracts.
package memory

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/username/sidekick/pkg/core"
	"github.com/username/sidekick/pkg/spi"
)

var log = logrus.WithField("prefix", "memory")

var (
	_ spi.ChainReader     = (*Chain)(nil)
	_ spi.ChainController = (*Chain)(nil)
)

// Chain is a linear chain of blocks held in memory. Rewinding and mining
// again produces blocks with new hashes, like a real reorg would.
type Chain struct {
	mu        sync.Mutex
	blocks    []core.BlockRef
	code      map[core.Address][]byte
	pruned    uint64
	finalized uint64
	fork      uint64
	changed   chan struct{}

	// AutoMine makes WaitBlocks mine the requested blocks instead of waiting
	// for a producer.
	AutoMine bool
}

// NewChain creates a chain holding only the genesis block
func NewChain() *Chain {
	c := &Chain{
		code:    make(map[core.Address][]byte),
		changed: make(chan struct{}),
	}
	c.blocks = []core.BlockRef{c.newBlock(core.Hash{}, 0)}
	return c
}

func (c *Chain) newBlock(parent core.Hash, height uint64) core.BlockRef {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], height)
	binary.BigEndian.PutUint64(buf[8:], c.fork)
	return core.BlockRef{
		Height: height,
		Hash:   crypto.Keccak256Hash(parent.Bytes(), buf[:]),
	}
}

// notify wakes every waiter. Callers must hold mu.
func (c *Chain) notify() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// Mine appends n blocks and returns the new head
func (c *Chain) Mine(n uint64) core.BlockRef {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := uint64(0); i < n; i++ {
		parent := c.blocks[len(c.blocks)-1]
		c.blocks = append(c.blocks, c.newBlock(parent.Hash, parent.Height+1))
	}
	if n > 0 {
		c.notify()
	}
	return c.blocks[len(c.blocks)-1]
}

// Produce mines one block every period until ctx is cancelled
func (c *Chain) Produce(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			head := c.Mine(1)
			log.WithField("height", head.Height).Trace("Produced block")
		}
	}
}

// SetCode stores the bytecode returned by CodeAt for target at any height
func (c *Chain) SetCode(target core.Address, code []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.code[target] = code
}

// Prune drops history below height; BlockAt reports it as unavailable
func (c *Chain) Prune(height uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruned = height
}

// Finalize protects history up to height from being rewound
func (c *Chain) Finalize(height uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalized = height
}

func (c *Chain) head() uint64 {
	return c.blocks[len(c.blocks)-1].Height
}

// HeadHeight returns the height of the last block
func (c *Chain) HeadHeight(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head(), nil
}

// BlockAt returns the block at height
func (c *Chain) BlockAt(ctx context.Context, height uint64) (core.BlockRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if height > c.head() {
		return core.BlockRef{}, errors.Wrapf(core.ErrDataUnavailable, "block %d is beyond head %d", height, c.head())
	}
	if height < c.pruned {
		return core.BlockRef{}, errors.Wrapf(core.ErrDataUnavailable, "block %d is pruned", height)
	}
	return c.blocks[height], nil
}

// CodeAt returns the code stored for target
func (c *Chain) CodeAt(ctx context.Context, target core.Address, height uint64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if height > c.head() {
		return nil, errors.Wrapf(core.ErrDataUnavailable, "state %d is beyond head %d", height, c.head())
	}
	return c.code[target], nil
}

// WaitBlocks blocks until the head has advanced by n
func (c *Chain) WaitBlocks(ctx context.Context, n uint64) error {
	if c.AutoMine {
		c.Mine(n)
		return nil
	}

	c.mu.Lock()
	want := c.head() + n
	for c.head() < want {
		changed := c.changed
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
		c.mu.Lock()
	}
	c.mu.Unlock()
	return nil
}

// RewindTo drops every block above height
func (c *Chain) RewindTo(ctx context.Context, height uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if height < c.finalized {
		return errors.Wrapf(core.ErrRewindConflict, "target %d is below finalized %d", height, c.finalized)
	}
	if height > c.head() {
		return errors.Errorf("rewind target %d is above head %d", height, c.head())
	}
	c.blocks = c.blocks[:height+1]
	c.fork++
	c.notify()
	log.WithField("height", height).Debug("Rewound chain head")
	return nil
}
