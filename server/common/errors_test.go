package common

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestSentinelWrapping(t *testing.T) {
	err := errors.Wrapf(ErrColumnNotFound, "emp.salary")
	require.ErrorIs(t, err, ErrColumnNotFound)
	require.Contains(t, err.Error(), "emp.salary")
	require.Contains(t, err.Error(), "column does not exist")
}

func TestTxnAbortError(t *testing.T) {
	err := error(&TxnAbortError{TxnID: 7, Reason: AbortDeadlockPrevention})
	require.True(t, IsTxnAbort(err))
	require.True(t, IsTxnAbort(errors.Wrap(err, "lock record")))
	require.False(t, IsTxnAbort(ErrInternal))
	require.Contains(t, err.Error(), "transaction 7 aborted")
	require.Contains(t, err.Error(), "DEADLOCK_PREVENTION")
}
