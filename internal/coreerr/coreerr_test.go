package coreerr_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/claude-slack/internal/coreerr"
	"github.com/2389/claude-slack/internal/store"
)

func TestOf_ClassifiesStoreSentinels(t *testing.T) {
	assert.Equal(t, coreerr.NotFound, coreerr.Of(store.ErrNotFound))
	assert.Equal(t, coreerr.Conflict, coreerr.Of(store.ErrConflict))
	assert.Equal(t, coreerr.Invariant, coreerr.Of(store.ErrInvariant))
	assert.Equal(t, coreerr.NotAuthorized, coreerr.Of(store.ErrNotAuthorized))
}

func TestOf_ClassifiesWrappedSentinels(t *testing.T) {
	wrapped := errors.New("wrapping: " + store.ErrNotFound.Error())
	assert.Equal(t, coreerr.Internal, coreerr.Of(wrapped)) // a message copied into a new error, without %w, is opaque

	joined := errors.Join(store.ErrNotFound)
	assert.Equal(t, coreerr.NotFound, coreerr.Of(joined))
}

func TestOf_ClassifiesCoreerrError(t *testing.T) {
	err := coreerr.New(coreerr.BadRequest, "bad field %s", "name")
	assert.Equal(t, coreerr.BadRequest, coreerr.Of(err))
	assert.Contains(t, err.Error(), "bad field name")
}

func TestOf_ClassifiesContextCancellation(t *testing.T) {
	assert.Equal(t, coreerr.Cancelled, coreerr.Of(context.Canceled))
	assert.Equal(t, coreerr.Cancelled, coreerr.Of(context.DeadlineExceeded))
}

func TestIs_MatchesThroughWrap(t *testing.T) {
	err := coreerr.Wrap(coreerr.Unavailable, errors.New("vector store down"), "search failed")
	assert.True(t, coreerr.Is(err, coreerr.Unavailable))
	assert.False(t, coreerr.Is(err, coreerr.NotFound))
}

func TestError_WithEntity(t *testing.T) {
	base := coreerr.New(coreerr.NotFound, "missing")
	scoped := base.WithEntity("channel")
	assert.Contains(t, scoped.Error(), "channel")
	assert.NotContains(t, base.Error(), "channel")
}
