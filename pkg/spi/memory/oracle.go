package memory

import (
	"context"
	"sync"

	"github.com/username/sidekick/pkg/core"
	"github.com/username/sidekick/pkg/spi"
)

var _ spi.OracleClient = (*Oracle)(nil)

// Oracle stands in for the reference contract: it returns whatever value a
// relayer last posted for the target.
type Oracle struct {
	mu     sync.Mutex
	values map[core.Address][]byte
	err    error
	calls  int
}

// NewOracle creates an Oracle with no posted values
func NewOracle() *Oracle {
	return &Oracle{values: make(map[core.Address][]byte)}
}

// Post sets the value returned for target
func (o *Oracle) Post(target core.Address, value []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.values[target] = append([]byte(nil), value...)
}

// Fail makes every subsequent call return err; nil restores service
func (o *Oracle) Fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

// Calls returns the number of calls served so far
func (o *Oracle) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

// Call returns the value posted for target
func (o *Oracle) Call(ctx context.Context, target core.Address, payload []byte) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.calls++
	if o.err != nil {
		return nil, core.OracleUnavailable(o.err)
	}
	return append([]byte(nil), o.values[target]...), nil
}
