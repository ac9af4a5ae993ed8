package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGuard(t *testing.T) (*StepGuard, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStepGuard(client), srv
}

func TestStepGuard_Key(t *testing.T) {
	g := NewStepGuard(nil)
	assert.Equal(t, "totp:last_step:42", g.key(42))
}

func TestStepGuard_AcceptsOnlyNewerSteps(t *testing.T) {
	g, srv := newGuard(t)
	ctx := context.Background()

	ok, err := g.Accept(ctx, 1, 100)
	require.NoError(t, err)
	assert.True(t, ok, "first step for a user is accepted")

	ok, err = g.Accept(ctx, 1, 100)
	require.NoError(t, err)
	assert.False(t, ok, "the same step is a replay")

	ok, err = g.Accept(ctx, 1, 99)
	require.NoError(t, err)
	assert.False(t, ok, "an older step is a replay")

	ok, err = g.Accept(ctx, 1, 101)
	require.NoError(t, err)
	assert.True(t, ok, "a newer step moves the guard forward")

	last, err := srv.Get("totp:last_step:1")
	require.NoError(t, err)
	assert.Equal(t, "101", last)
}

func TestStepGuard_UsersAreIndependent(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()

	ok, err := g.Accept(ctx, 1, 500)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = g.Accept(ctx, 2, 400)
	require.NoError(t, err)
	assert.True(t, ok, "another user's history must not reject this step")
}

func TestStepGuard_KeyExpires(t *testing.T) {
	g, srv := newGuard(t)
	ctx := context.Background()

	ok, err := g.Accept(ctx, 1, 100)
	require.NoError(t, err)
	require.True(t, ok)

	ttl := srv.TTL("totp:last_step:1")
	assert.Greater(t, ttl, 90*time.Second, "three 30-second steps must stay covered")
	assert.LessOrEqual(t, ttl, stepGuardTTL)

	srv.FastForward(stepGuardTTL + time.Second)
	ok, err = g.Accept(ctx, 1, 100)
	require.NoError(t, err)
	assert.True(t, ok, "an expired record no longer blocks the step")
}

func TestStepGuard_ServerDown(t *testing.T) {
	g, srv := newGuard(t)
	srv.Close()

	_, err := g.Accept(context.Background(), 1, 100)
	assert.Error(t, err)
}
