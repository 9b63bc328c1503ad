package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStorageWrapsOnce(t *testing.T) {
	base := errors.New("disk full")

	err := Storage(base)
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, base)
	assert.True(t, Retryable(err))

	assert.Equal(t, err, Storage(err))
	assert.Nil(t, Storage(nil))
}

func TestStorageKeepsClassifiedErrors(t *testing.T) {
	err := Storage(ErrNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrStorage)
	assert.False(t, Retryable(err))
}

func TestExternal(t *testing.T) {
	err := External(errors.New("502 bad gateway"))
	assert.ErrorIs(t, err, ErrExternalUnavailable)
	assert.False(t, Retryable(err))
	assert.Equal(t, err, External(err))
}
