package monitor

import (
	"context"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/username/sidekick/pkg/core"
	"github.com/username/sidekick/pkg/spi"
	"github.com/username/sidekick/pkg/validator"
)

var target = common.HexToAddress("0xdeadbeef10b8dbf29765047380898919deadbeef")

// fakeChain implements every collaborator and records the order of side effects
type fakeChain struct {
	head      uint64
	events    []string
	rewindErr error
	recordErr error
	oracleErr error
	oracleOut []byte
	onWait    func(n uint64) error
}

func hashFor(height uint64) core.Hash {
	return core.Hash{0xbb, byte(height >> 8), byte(height)}
}

func (c *fakeChain) log(format string, args ...interface{}) {
	c.events = append(c.events, fmt.Sprintf(format, args...))
}

func (c *fakeChain) HeadHeight(ctx context.Context) (uint64, error) {
	return c.head, nil
}

func (c *fakeChain) BlockAt(ctx context.Context, height uint64) (core.BlockRef, error) {
	if height > c.head {
		return core.BlockRef{}, errors.Wrapf(core.ErrDataUnavailable, "block %d", height)
	}
	return core.BlockRef{Height: height, Hash: hashFor(height)}, nil
}

func (c *fakeChain) CodeAt(ctx context.Context, t core.Address, height uint64) ([]byte, error) {
	return []byte("code"), nil
}

func (c *fakeChain) Call(ctx context.Context, t core.Address, payload []byte) ([]byte, error) {
	c.log("call")
	return c.oracleOut, c.oracleErr
}

func (c *fakeChain) WaitBlocks(ctx context.Context, n uint64) error {
	c.log("wait:%d", n)
	if c.onWait != nil {
		if err := c.onWait(n); err != nil {
			return err
		}
	}
	c.head += n
	return nil
}

func (c *fakeChain) RewindTo(ctx context.Context, height uint64) error {
	c.log("rewind:%d", height)
	if c.rewindErr != nil {
		return c.rewindErr
	}
	c.head = height
	return nil
}

func (c *fakeChain) Record(ctx context.Context, ref core.BlockRef) error {
	c.log("record:%d", ref.Height)
	return c.recordErr
}

func (c *fakeChain) Rewind(ctx context.Context, height uint64) error {
	c.log("sink-rewind:%d", height)
	return nil
}

// scripted returns a validator that answers with results in order
func scripted(c *fakeChain, results ...bool) spi.Validator {
	return spi.ValidatorFunc(func(ctx context.Context, height uint64, reader spi.ChainReader, oracle spi.OracleClient, cfg core.CheckpointConfig) (bool, error) {
		c.log("validate:%d", height)
		if len(results) == 0 {
			return false, errors.New("unexpected validation")
		}
		r := results[0]
		results = results[1:]
		return r, nil
	})
}

func newTestScheduler(t *testing.T, c *fakeChain, v spi.Validator) *Scheduler {
	s, err := NewScheduler(core.CheckpointConfig{Interval: 50, OracleTarget: target}, c, c, c, c, v)
	require.NoError(t, err)
	s.OnOutcome(func(ctx context.Context, o core.Outcome) error {
		switch o := o.(type) {
		case core.Success:
			c.log("success:%d", o.Checkpoint.Height)
		case core.Failure:
			c.log("failure:%d->%d", o.AttemptedHeight, o.RollbackTarget)
		}
		return nil
	})
	return s
}

func TestNewScheduler_RejectsBadConfig(t *testing.T) {
	c := &fakeChain{}
	_, err := NewScheduler(core.CheckpointConfig{Interval: 0, OracleTarget: target}, c, c, c, c, nil)
	require.True(t, errors.Is(err, core.ErrConfig))

	_, err = NewScheduler(core.CheckpointConfig{Interval: 50}, c, c, c, c, nil)
	require.True(t, errors.Is(err, core.ErrConfig))

	_, err = NewScheduler(core.CheckpointConfig{Interval: 50, OracleTarget: target}, nil, c, c, c, nil)
	require.True(t, errors.Is(err, core.ErrConfig))
}

func TestStep_NonBoundaryOnlyWaits(t *testing.T) {
	cases := map[uint64]uint64{
		0:   50,
		1:   49,
		49:  1,
		51:  49,
		137: 13,
	}
	for head, distance := range cases {
		c := &fakeChain{head: head}
		s := newTestScheduler(t, c, scripted(c))

		outcome, err := s.Step(context.Background())
		require.NoError(t, err)
		require.Nil(t, outcome)
		require.Equal(t, []string{fmt.Sprintf("wait:%d", distance)}, c.events, "head %d", head)
	}
}

func TestStep_WaitLandsExactlyOnBoundary(t *testing.T) {
	c := &fakeChain{head: 137}
	s := newTestScheduler(t, c, scripted(c, true))

	_, err := s.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(150), c.head)

	outcome, err := s.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, core.Success{Checkpoint: core.BlockRef{Height: 150, Hash: hashFor(150)}}, outcome)
	require.Equal(t, []string{"wait:13", "validate:150", "success:150", "record:150", "wait:50"}, c.events)
}

func TestStep_Success(t *testing.T) {
	c := &fakeChain{head: 150}
	s := newTestScheduler(t, c, scripted(c, true))

	outcome, err := s.Step(context.Background())
	require.NoError(t, err)

	success, ok := outcome.(core.Success)
	require.True(t, ok)
	require.Equal(t, uint64(150), success.Checkpoint.Height)
	require.Equal(t, hashFor(150), success.Checkpoint.Hash)
	require.Equal(t, []string{"validate:150", "success:150", "record:150", "wait:50"}, c.events)
}

func TestStep_FailureRewindsOneInterval(t *testing.T) {
	c := &fakeChain{head: 150}
	s := newTestScheduler(t, c, scripted(c, false))

	outcome, err := s.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, core.Failure{AttemptedHeight: 150, RollbackTarget: 100}, outcome)
	require.Equal(t, []string{"validate:150", "failure:150->100", "rewind:100", "sink-rewind:100"}, c.events)
	require.Equal(t, uint64(100), c.head)
}

func TestStep_FailureReevaluatesWithoutWaiting(t *testing.T) {
	c := &fakeChain{head: 150}
	s := newTestScheduler(t, c, scripted(c, false, true))

	_, err := s.Step(context.Background())
	require.NoError(t, err)
	outcome, err := s.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(100), outcome.Height())

	require.Equal(t, []string{
		"validate:150", "failure:150->100", "rewind:100", "sink-rewind:100",
		"validate:100", "success:100", "record:100", "wait:50",
	}, c.events)
}

func TestStep_SinkFailureDoesNotChangeDecision(t *testing.T) {
	c := &fakeChain{head: 150, recordErr: errors.New("db down")}
	s := newTestScheduler(t, c, scripted(c, true))

	outcome, err := s.Step(context.Background())
	require.NoError(t, err)
	require.IsType(t, core.Success{}, outcome)
	require.Equal(t, "wait:50", c.events[len(c.events)-1])
}

func TestStep_OutcomeHandlerErrorIsIgnored(t *testing.T) {
	c := &fakeChain{head: 150}
	s := newTestScheduler(t, c, scripted(c, false))
	s.OnOutcome(func(ctx context.Context, o core.Outcome) error {
		return errors.New("relay unreachable")
	})

	_, err := s.Step(context.Background())
	require.NoError(t, err)
	require.Contains(t, c.events, "rewind:100")
}

func TestRun_TooYoungIsFatal(t *testing.T) {
	c := &fakeChain{head: 0}
	s := newTestScheduler(t, c, validator.New(nil))

	err := s.Run(context.Background())
	require.True(t, errors.Is(err, core.ErrDataUnavailable), "got %v", err)
	require.Equal(t, []string{"wait:50"}, c.events)
}

func TestRun_SkipMissingHistory(t *testing.T) {
	c := &fakeChain{head: 50}
	cfg := core.CheckpointConfig{Interval: 50, OracleTarget: target, SkipMissingHistory: true}
	s, err := NewScheduler(cfg, c, c, c, c, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.onWait = func(n uint64) error {
		if c.head+n >= 100 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	require.NoError(t, s.Run(ctx))
	require.Equal(t, []string{"wait:50"}, c.events)
}

func TestRun_OracleUnavailableIsSurfaced(t *testing.T) {
	c := &fakeChain{head: 150, oracleErr: errors.New("dial tcp: connection refused")}
	s := newTestScheduler(t, c, validator.New(nil))

	err := s.Run(context.Background())
	require.True(t, errors.Is(err, core.ErrOracleUnavailable), "got %v", err)
	require.NotContains(t, c.events, "rewind:100")
}

func TestRun_ContractValidatorEndToEnd(t *testing.T) {
	c := &fakeChain{head: 150}
	c.oracleOut = validator.Keccak256Concat(
		core.BlockRef{Height: 50, Hash: hashFor(50)},
		core.BlockRef{Height: 100, Hash: hashFor(100)},
	)
	s := newTestScheduler(t, c, validator.New(nil))

	outcome, err := s.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, core.Success{Checkpoint: core.BlockRef{Height: 150, Hash: hashFor(150)}}, outcome)
}

func TestRun_RewindConflictHalts(t *testing.T) {
	c := &fakeChain{head: 150, rewindErr: errors.Wrap(core.ErrRewindConflict, "finalized at 120")}
	s := newTestScheduler(t, c, scripted(c, false))

	err := s.Run(context.Background())
	require.True(t, errors.Is(err, core.ErrRewindConflict), "got %v", err)
	require.Equal(t, []string{"validate:150", "failure:150->100", "rewind:100"}, c.events)
}

func TestRun_StopsBetweenIterations(t *testing.T) {
	c := &fakeChain{head: 100}
	s := newTestScheduler(t, c, scripted(c, true, true, true))

	ctx, cancel := context.WithCancel(context.Background())
	c.onWait = func(n uint64) error {
		if c.head >= 150 {
			cancel()
		}
		return nil
	}

	require.NoError(t, s.Run(ctx))
	require.Equal(t, []string{
		"validate:100", "success:100", "record:100", "wait:50",
		"validate:150", "success:150", "record:150", "wait:50",
	}, c.events)
}

func TestStep_HeadOvershootsBoundary(t *testing.T) {
	c := &fakeChain{head: 137}
	s := newTestScheduler(t, c, scripted(c, true))
	// a block lands between reading the head and starting the wait
	c.onWait = func(n uint64) error {
		if n == 13 {
			c.head++
		}
		return nil
	}

	_, err := s.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(151), c.head)

	outcome, err := s.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, core.Success{Checkpoint: core.BlockRef{Height: 150, Hash: hashFor(150)}}, outcome)
	require.Equal(t, []string{"wait:13", "validate:150", "success:150", "record:150", "wait:50"}, c.events)
}

func TestStep_BatchImportValidatesEveryBoundary(t *testing.T) {
	c := &fakeChain{head: 137}
	s := newTestScheduler(t, c, scripted(c, true, true, true))
	// the node imports a batch reaching past two boundaries
	c.onWait = func(n uint64) error {
		if n == 13 {
			c.head += 90
		}
		return nil
	}

	for i := 0; i < 4; i++ {
		_, err := s.Step(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, []string{
		"wait:13",
		"validate:150", "success:150", "record:150", "wait:50",
		"validate:200", "success:200", "record:200", "wait:50",
		"validate:250", "success:250", "record:250", "wait:50",
	}, c.events)
}

func TestStep_OvershotBoundaryFailureRewindsFromBoundary(t *testing.T) {
	c := &fakeChain{head: 140}
	s := newTestScheduler(t, c, scripted(c, false))
	c.onWait = func(n uint64) error {
		c.head += 3
		return nil
	}

	_, err := s.Step(context.Background())
	require.NoError(t, err)
	outcome, err := s.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, core.Failure{AttemptedHeight: 150, RollbackTarget: 100}, outcome)
	require.Equal(t, []string{"wait:10", "validate:150", "failure:150->100", "rewind:100", "sink-rewind:100"}, c.events)
}
