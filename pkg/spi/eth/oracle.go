package eth

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/username/sidekick/pkg/core"
	"github.com/username/sidekick/pkg/spi"
)

// Oracle implements spi.OracleClient with eth_call against the latest state
type Oracle struct {
	caller ethereum.ContractCaller
	from   common.Address
}

var _ spi.OracleClient = (*Oracle)(nil)

// NewOracle creates an Oracle sending calls from the given address
func NewOracle(caller ethereum.ContractCaller, from common.Address) *Oracle {
	return &Oracle{caller: caller, from: from}
}

// Call executes payload against target without creating a transaction
func (o *Oracle) Call(ctx context.Context, target core.Address, payload []byte) ([]byte, error) {
	msg := ethereum.CallMsg{
		From: o.from,
		To:   &target,
		Data: payload,
	}
	out, err := o.caller.CallContract(ctx, msg, nil)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errors.Wrapf(core.OracleUnavailable(err), "eth_call to %s", target.Hex())
	}
	return out, nil
}
