package edgar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsCancelled(t *testing.T) {
	t.Parallel()

	assert.NoError(t, AsCancelled(nil))

	plain := errors.New("boom")
	assert.Same(t, plain, AsCancelled(plain))

	wrapped := AsCancelled(context.Canceled)
	assert.ErrorIs(t, wrapped, ErrCancelled)
	assert.ErrorIs(t, wrapped, context.Canceled)

	// Re-wrapping an already-cancelled error must not stack prefixes.
	again := AsCancelled(fmt.Errorf("batch item: %w", wrapped))
	assert.Equal(t, 1, strings.Count(again.Error(), ErrCancelled.Error()))
}

func TestIsCancelled(t *testing.T) {
	t.Parallel()

	assert.True(t, IsCancelled(context.Canceled))
	assert.True(t, IsCancelled(context.DeadlineExceeded))
	assert.True(t, IsCancelled(fmt.Errorf("wrap: %w", ErrCancelled)))
	assert.False(t, IsCancelled(errors.New("boom")))
	assert.False(t, IsCancelled(&TransientNetworkError{URL: "u", Attempts: 2, Cause: errors.New("timeout")}))
}
