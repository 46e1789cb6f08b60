package core

import (
	"context"
	"net"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestOracleUnavailable_KeepsCause(t *testing.T) {
	require.NoError(t, OracleUnavailable(nil))

	err := errors.Wrap(OracleUnavailable(context.DeadlineExceeded), "checkpoint 150")
	require.True(t, errors.Is(err, ErrOracleUnavailable))
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.Contains(t, err.Error(), "oracle unavailable: context deadline exceeded")

	dial := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	err = OracleUnavailable(dial)
	var opErr *net.OpError
	require.True(t, errors.As(err, &opErr))
	require.Equal(t, dial, errors.Cause(err))
	require.False(t, errors.Is(err, ErrDataUnavailable))
}
