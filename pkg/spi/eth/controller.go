package eth

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/username/sidekick/pkg/core"
	"github.com/username/sidekick/pkg/spi"
)

const (
	defaultPollInterval = 2 * time.Second
	keepAliveInterval   = 10 * time.Second
)

// ControllerConfig tunes the Controller
type ControllerConfig struct {
	// PollInterval is used when the node cannot push new heads
	PollInterval time.Duration
	// MinRewindHeight is the lowest height RewindTo accepts
	MinRewindHeight uint64
}

// Controller implements spi.ChainController. It waits for blocks through a
// head subscription when the endpoint supports one, and falls back to
// polling otherwise. Rewinds go through debug_setHead.
type Controller struct {
	backend Backend
	rpc     RPCCaller
	cfg     ControllerConfig
}

var _ spi.ChainController = (*Controller)(nil)

// NewController creates a Controller
func NewController(backend Backend, caller RPCCaller, cfg ControllerConfig) *Controller {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Controller{backend: backend, rpc: caller, cfg: cfg}
}

// WaitBlocks blocks until the local head is n blocks past its current height
func (c *Controller) WaitBlocks(ctx context.Context, n uint64) error {
	start, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return errors.Wrap(err, "could not read head height")
	}
	want := start + n
	if n == 0 {
		return nil
	}

	var (
		headCh chan *types.Header
		subErr <-chan error
	)
	tick := c.cfg.PollInterval

	headCh = make(chan *types.Header, 16)
	sub, err := c.backend.SubscribeNewHead(ctx, headCh)
	if err == nil {
		defer sub.Unsubscribe()
		subErr = sub.Err()
		tick = keepAliveInterval
	} else {
		log.WithError(err).Debug("Head subscription unavailable, polling")
		headCh = nil
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	log.WithFields(logrus.Fields{
		"from": start,
		"to":   want,
	}).Debug("Waiting for blocks")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case header := <-headCh:
			if header.Number.Uint64() >= want {
				return nil
			}
		case err := <-subErr:
			// subscription died; poll from now on
			log.WithError(err).Warn("Head subscription dropped, polling")
			headCh, subErr = nil, nil
			ticker.Reset(c.cfg.PollInterval)
		case <-ticker.C:
			height, err := c.backend.BlockNumber(ctx)
			if err != nil {
				log.WithError(err).Warn("Could not poll head height")
				continue
			}
			if height >= want {
				return nil
			}
		}
	}
}

// RewindTo sets the local head to height with debug_setHead. Targets below
// MinRewindHeight or the finalized block are refused.
func (c *Controller) RewindTo(ctx context.Context, height uint64) error {
	floor := c.cfg.MinRewindHeight
	if finalized, ok := c.finalized(ctx); ok && finalized > floor {
		floor = finalized
	}
	if height < floor {
		return errors.Wrapf(core.ErrRewindConflict, "target %d is below protected height %d", height, floor)
	}

	if err := c.rpc.CallContext(ctx, nil, "debug_setHead", hexutil.Uint64(height)); err != nil {
		return errors.Wrapf(err, "debug_setHead(%d)", height)
	}
	log.WithField("height", height).Info("Rewound chain head")
	return nil
}

func (c *Controller) finalized(ctx context.Context) (uint64, bool) {
	header, err := c.backend.HeaderByNumber(ctx, big.NewInt(int64(rpc.FinalizedBlockNumber)))
	if err != nil || header == nil {
		// chains without finality report an error here
		return 0, false
	}
	return header.Number.Uint64(), true
}
