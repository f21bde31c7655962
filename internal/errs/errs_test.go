package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByKind(t *testing.T) {
	err := E(KindAccessDenied, "memory.store", "role %q may not write %s", "researcher", "brand")

	assert.True(t, errors.Is(err, ErrAccessDenied))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, `memory.store: role "researcher" may not write brand`, err.Error())
}

func TestKindOfThroughWrapping(t *testing.T) {
	base := Wrap(KindUpstreamTimeout, "llm.complete", context.DeadlineExceeded)
	wrapped := fmt.Errorf("create plan: %w", base)

	assert.Equal(t, KindUpstreamTimeout, KindOf(wrapped))
	assert.True(t, Retryable(wrapped))
	assert.True(t, errors.Is(wrapped, context.DeadlineExceeded))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.False(t, Retryable(E(KindInvalidInput, "x", "bad")))
}
