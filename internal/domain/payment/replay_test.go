package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGuard(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	g := NewMemoryGuard()
	g.now = func() time.Time { return now }

	ok, err := g.Claim(ctx, "pay_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Claim(ctx, "pay_1", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must be rejected")

	ok, err = g.Claim(ctx, "pay_2", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "claims are per payment id")

	require.NoError(t, g.Release(ctx, "pay_1"))
	ok, err = g.Claim(ctx, "pay_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "released id can be claimed again")

	now = now.Add(2 * time.Hour)
	ok, err = g.Claim(ctx, "pay_2", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "expired claim is forgotten")

	_, err = g.Claim(ctx, "", time.Hour)
	require.Error(t, err)
}
