package validator

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/username/sidekick/pkg/core"
)

var target = common.HexToAddress("0xdeadbeef10b8dbf29765047380898919deadbeef")

type mockReader struct {
	blocks    map[uint64]core.BlockRef
	code      []byte
	requested []uint64
	codeAt    []uint64
}

func newMockReader(heights ...uint64) *mockReader {
	r := &mockReader{blocks: make(map[uint64]core.BlockRef), code: []byte{0x60, 0x80, 0x60, 0x40}}
	for _, h := range heights {
		r.blocks[h] = core.BlockRef{Height: h, Hash: crypto.Keccak256Hash([]byte{byte(h), byte(h >> 8)})}
	}
	return r
}

func (r *mockReader) HeadHeight(ctx context.Context) (uint64, error) { return 0, nil }

func (r *mockReader) BlockAt(ctx context.Context, height uint64) (core.BlockRef, error) {
	r.requested = append(r.requested, height)
	b, ok := r.blocks[height]
	if !ok {
		return core.BlockRef{}, errors.Wrapf(core.ErrDataUnavailable, "block %d", height)
	}
	return b, nil
}

func (r *mockReader) CodeAt(ctx context.Context, t core.Address, height uint64) ([]byte, error) {
	r.codeAt = append(r.codeAt, height)
	return r.code, nil
}

type mockOracle struct {
	out      []byte
	err      error
	payloads [][]byte
}

func (o *mockOracle) Call(ctx context.Context, t core.Address, payload []byte) ([]byte, error) {
	o.payloads = append(o.payloads, payload)
	return o.out, o.err
}

func TestValidate_Attested(t *testing.T) {
	cfg := core.CheckpointConfig{Interval: 50, OracleTarget: target}
	reader := newMockReader(50, 100, 150)
	oracle := &mockOracle{out: Keccak256Concat(reader.blocks[50], reader.blocks[100])}

	ok, err := New(nil).Validate(context.Background(), 150, reader, oracle, cfg)
	require.NoError(t, err)
	require.True(t, ok)
	require.ElementsMatch(t, []uint64{50, 100}, reader.requested)
	require.Equal(t, []uint64{150}, reader.codeAt)
	require.Equal(t, [][]byte{reader.code}, oracle.payloads)
}

func TestValidate_NotAttested(t *testing.T) {
	cfg := core.CheckpointConfig{Interval: 50, OracleTarget: target}
	reader := newMockReader(50, 100, 150)
	// swapped order must not attest
	oracle := &mockOracle{out: Keccak256Concat(reader.blocks[100], reader.blocks[50])}

	ok, err := New(nil).Validate(context.Background(), 150, reader, oracle, cfg)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestValidate_Idempotent(t *testing.T) {
	cfg := core.CheckpointConfig{Interval: 10, OracleTarget: target}
	reader := newMockReader(10, 20, 30)
	oracle := &mockOracle{out: []byte{0xaa}}
	v := New(nil)

	first, err := v.Validate(context.Background(), 30, reader, oracle, cfg)
	require.NoError(t, err)
	second, err := v.Validate(context.Background(), 30, reader, oracle, cfg)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestValidate_TooYoungIsDataUnavailable(t *testing.T) {
	cfg := core.CheckpointConfig{Interval: 50, OracleTarget: target}
	reader := newMockReader(0, 50)
	oracle := &mockOracle{}

	ok, err := New(nil).Validate(context.Background(), 50, reader, oracle, cfg)
	require.False(t, ok)
	require.True(t, errors.Is(err, core.ErrDataUnavailable), "got %v", err)
	require.Empty(t, reader.requested)
	require.Empty(t, oracle.payloads)
}

func TestValidate_PrunedHistoryIsDataUnavailable(t *testing.T) {
	cfg := core.CheckpointConfig{Interval: 50, OracleTarget: target}
	reader := newMockReader(100, 150)
	oracle := &mockOracle{}

	_, err := New(nil).Validate(context.Background(), 150, reader, oracle, cfg)
	require.True(t, errors.Is(err, core.ErrDataUnavailable), "got %v", err)
	require.Empty(t, oracle.payloads)
}

func TestValidate_OracleFailureIsSurfaced(t *testing.T) {
	cfg := core.CheckpointConfig{Interval: 50, OracleTarget: target}
	reader := newMockReader(50, 100, 150)
	oracle := &mockOracle{err: context.DeadlineExceeded}

	ok, err := New(nil).Validate(context.Background(), 150, reader, oracle, cfg)
	require.False(t, ok)
	require.True(t, errors.Is(err, core.ErrOracleUnavailable), "got %v", err)
	require.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestValidate_CustomCombiner(t *testing.T) {
	cfg := core.CheckpointConfig{Interval: 5, OracleTarget: target}
	reader := newMockReader(5, 10, 15)
	combine := func(older, newer core.BlockRef) []byte {
		return []byte{byte(older.Height), byte(newer.Height)}
	}
	oracle := &mockOracle{out: []byte{5, 10}}

	ok, err := New(combine).Validate(context.Background(), 15, reader, oracle, cfg)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestKeccak256Concat_OrderSensitive(t *testing.T) {
	a := core.BlockRef{Height: 1, Hash: common.HexToHash("0x01")}
	b := core.BlockRef{Height: 2, Hash: common.HexToHash("0x02")}

	require.Len(t, Keccak256Concat(a, b), 32)
	require.NotEqual(t, Keccak256Concat(a, b), Keccak256Concat(b, a))
	require.Equal(t, crypto.Keccak256(a.Hash.Bytes(), b.Hash.Bytes()), Keccak256Concat(a, b))
}
