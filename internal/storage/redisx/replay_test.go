package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGuard(t *testing.T) (*ReplayGuard, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client, err := NewClient("redis://" + srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewReplayGuard(client), srv
}

func TestReplayGuard_Claim(t *testing.T) {
	g, srv := newGuard(t)
	ctx := context.Background()

	ok, err := g.Claim(ctx, "pay_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Claim(ctx, "pay_1", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must be refused")

	ok, err = g.Claim(ctx, "pay_2", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.True(t, srv.Exists(replayKeyPrefix+"pay_1"))
	assert.Equal(t, time.Hour, srv.TTL(replayKeyPrefix+"pay_1"))
}

func TestReplayGuard_Expiry(t *testing.T) {
	g, srv := newGuard(t)
	ctx := context.Background()

	ok, err := g.Claim(ctx, "pay_1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	srv.FastForward(2 * time.Minute)

	ok, err = g.Claim(ctx, "pay_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReplayGuard_Release(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()

	ok, err := g.Claim(ctx, "pay_1", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, g.Release(ctx, "pay_1"))

	ok, err = g.Claim(ctx, "pay_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReplayGuard_EmptyID(t *testing.T) {
	g, _ := newGuard(t)
	_, err := g.Claim(context.Background(), "", time.Hour)
	require.Error(t, err)
}

func TestReplayGuard_ServerDown(t *testing.T) {
	g, srv := newGuard(t)
	srv.Close()

	_, err := g.Claim(context.Background(), "pay_1", time.Hour)
	require.Error(t, err)
}
