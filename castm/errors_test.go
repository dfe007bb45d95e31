package castm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConflictMatchesTheExportedSentinelRegardlessOfKind(t *testing.T) {
	for _, kind := range []conflictKind{conflictLock, conflictValidation, conflictWounded, conflictTruncatedHistory} {
		err := error(&conflict{kind: kind})
		assert.True(t, errors.Is(err, ErrConflict))
	}
}

func TestIsConflictUnwrapsThroughFmtErrorf(t *testing.T) {
	wrapped := errors.New("context: " + (&conflict{kind: conflictWounded}).Error())
	_, ok := isConflict(wrapped)
	assert.False(t, ok, "a plain string-wrapped error is not a *conflict and must not match")

	c := &conflict{kind: conflictWounded}
	wrappedReal := fmt.Errorf("context: %w", c)
	got, ok := isConflict(wrappedReal)
	assert.True(t, ok)
	assert.Equal(t, conflictWounded, got.kind)
}
