package xoerrors_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vatesfr/xobackup/pkg/xoerrors"
)

func TestWrapIsAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := xoerrors.Wrap(xoerrors.ErrTransferFailed, cause)

	require.True(t, errors.Is(err, xoerrors.ErrTransferFailed))
	require.False(t, errors.Is(err, xoerrors.ErrTimeout))
	require.Equal(t, cause, errors.Unwrap(err))
}

func TestNewHasNoCause(t *testing.T) {
	err := xoerrors.New(xoerrors.ErrNoVMsMatchPattern, "job %s matched nothing", "job-1")
	require.True(t, errors.Is(err, xoerrors.ErrNoVMsMatchPattern))
	require.Nil(t, errors.Unwrap(err))
	require.Contains(t, err.Error(), "job-1")
}
