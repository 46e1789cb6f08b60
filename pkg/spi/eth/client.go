package eth

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/username/sidekick/pkg/core"
	"github.com/username/sidekick/pkg/spi"
)

var log = logrus.WithField("prefix", "eth")

// Backend is the subset of ethclient.Client used by the adapters
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// RPCCaller issues raw JSON-RPC calls, satisfied by *rpc.Client
type RPCCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Client implements spi.ChainReader using go-ethereum's ethclient
type Client struct {
	backend Backend
	rpc     *rpc.Client
}

var _ spi.ChainReader = (*Client)(nil)

// Dial connects to the node at rawurl. Head subscriptions need a ws or ipc endpoint.
func Dial(ctx context.Context, rawurl string) (*Client, error) {
	rc, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", rawurl)
	}
	return &Client{backend: ethclient.NewClient(rc), rpc: rc}, nil
}

// NewClient wraps an existing backend
func NewClient(backend Backend) *Client {
	return &Client{backend: backend}
}

// Backend returns the underlying backend
func (c *Client) Backend() Backend {
	return c.backend
}

// RPC returns the raw rpc client, nil when the client wraps a bare backend
func (c *Client) RPC() *rpc.Client {
	return c.rpc
}

// Close releases the connection
func (c *Client) Close() {
	if c.rpc != nil {
		c.rpc.Close()
	}
}

// HeadHeight returns the latest local block number
func (c *Client) HeadHeight(ctx context.Context) (uint64, error) {
	return c.backend.BlockNumber(ctx)
}

// BlockAt fetches the header at height
func (c *Client) BlockAt(ctx context.Context, height uint64) (core.BlockRef, error) {
	header, err := c.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(height))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return core.BlockRef{}, errors.Wrapf(core.ErrDataUnavailable, "block %d not found", height)
		}
		return core.BlockRef{}, errors.Wrapf(err, "could not fetch block %d", height)
	}
	return core.BlockRef{
		Height: header.Number.Uint64(),
		Hash:   header.Hash(),
	}, nil
}

// CodeAt fetches the code of target in the state of block height
func (c *Client) CodeAt(ctx context.Context, target core.Address, height uint64) ([]byte, error) {
	code, err := c.backend.CodeAt(ctx, target, new(big.Int).SetUint64(height))
	if err != nil {
		if isMissingState(err) {
			return nil, errors.Wrapf(core.ErrDataUnavailable, "state %d: %v", height, err)
		}
		return nil, errors.Wrapf(err, "could not fetch code of %s at %d", target.Hex(), height)
	}
	return code, nil
}

// isMissingState matches the errors geth reports for pruned or unknown state
func isMissingState(err error) bool {
	if errors.Is(err, ethereum.NotFound) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "missing trie node") ||
		strings.Contains(msg, "header not found") ||
		strings.Contains(msg, "historical state")
}
