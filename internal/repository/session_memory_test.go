package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySessionStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore()

	_, err := store.Get(ctx, "0xabc")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, store.Set(ctx, "0xabc", "wd-1"))
	require.NoError(t, store.Set(ctx, "0x123", "wd-2"))
	require.NoError(t, store.Set(ctx, "0xabc", "wd-3"))

	id, err := store.Get(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "wd-3", id)

	users, err := store.Users(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0x123", "0xabc"}, users)

	require.NoError(t, store.Clear(ctx, "0xabc"))
	require.NoError(t, store.Clear(ctx, "0xabc"))
	_, err = store.Get(ctx, "0xabc")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
