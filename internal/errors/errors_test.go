package errors_test

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Rana718/crashetl/internal/errors"
)

func TestWrapErrorKeepsKindAndCause(t *testing.T) {
	err := errors.WrapError(context.DeadlineExceeded, errors.ErrFetch, "page 2")

	require.True(t, errors.Is(err, errors.ErrFetch))
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.Contains(t, err.Error(), "page 2")
}

func TestWrapErrorNilCause(t *testing.T) {
	err := errors.WrapError(nil, errors.ErrExport, "table collision_summary does not exist")

	require.True(t, errors.Is(err, errors.ErrExport))
	require.Equal(t, "export error: table collision_summary does not exist", err.Error())
}

func TestStageError(t *testing.T) {
	cause := errors.WrapError(stderrors.New("connection refused"), errors.ErrLoad, "replace raw_collisions")
	err := error(&errors.StageError{Stage: "LOADING", Entity: "collisions", Err: cause})

	var stageErr *errors.StageError
	require.True(t, errors.As(err, &stageErr))
	require.Equal(t, "LOADING", stageErr.Stage)
	require.True(t, errors.Is(err, errors.ErrLoad))
	require.Contains(t, err.Error(), "stage LOADING failed for collisions")

	noEntity := &errors.StageError{Stage: "TRANSFORMING", Err: cause}
	require.NotContains(t, noEntity.Error(), " for ")
}
