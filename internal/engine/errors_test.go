package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngineError(t *testing.T) {
	cause := errors.New("disk I/O error")

	err := storageFailure("t1", cause)
	assert.Equal(t, "engine: STORAGE_FAILURE: ticket t1 not validated: disk I/O error", err.Error())
	assert.ErrorIs(t, err, cause)

	err = storageFailure("", cause)
	assert.Equal(t, "engine: STORAGE_FAILURE: scan not validated: disk I/O error", err.Error())
}

func TestIsStorageFailure(t *testing.T) {
	wrapped := fmt.Errorf("scan: %w", storageFailure("t1", errors.New("boom")))

	assert.True(t, IsStorageFailure(wrapped))
	assert.False(t, IsStorageFailure(errors.New("boom")))
	assert.False(t, IsStorageFailure(nil))
}
