package errors_test

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/jolt/internal/errors"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := errors.New().Wrap(errors.ErrStoreBusy, cause)

	assert.Equal(t, errors.ErrStoreBusy, err.Code())
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "disk full")
}

func TestCodeOf(t *testing.T) {
	err := errors.New().New(errors.ErrLagging)
	assert.Equal(t, errors.ErrLagging, errors.CodeOf(err))

	assert.Equal(t, errors.ErrInternal, errors.CodeOf(stderrors.New("plain")),
		"uncategorized errors map to internal")
}

func TestInternalCarriesCorrelationID(t *testing.T) {
	err := errors.Internal(stderrors.New("boom"))

	assert.Equal(t, errors.ErrInternal, err.Code())
	require.NotNil(t, err.GetData())
	assert.Contains(t, err.Error(), "CorrelationID")
}

func TestWithMessageOverrides(t *testing.T) {
	err := errors.New().WithMessage(errors.ErrBadRequest, "missing kind")
	assert.Equal(t, "missing kind", err.Error())
}
