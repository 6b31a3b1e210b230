package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisWithClient(client, ""), mr
}

func TestRedis_AllowsWithinLimit(t *testing.T) {
	st, _ := newTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := st.TryConsume(ctx, "key", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i+1)
		assert.Equal(t, 3-(i+1), res.Remaining, "request %d", i+1)
		assert.GreaterOrEqual(t, res.Reset, time.Second)
	}
}

func TestRedis_RejectsOverLimit(t *testing.T) {
	st, _ := newTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := st.TryConsume(ctx, "key", 2, time.Minute)
		require.NoError(t, err)
	}

	res, err := st.TryConsume(ctx, "key", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.GreaterOrEqual(t, res.Reset, time.Second)
}

func TestRedis_RejectionDoesNotConsume(t *testing.T) {
	st, mr := newTestRedis(t)
	ctx := context.Background()

	_, err := st.TryConsume(ctx, "key", 1, time.Minute)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		res, err := st.TryConsume(ctx, "key", 1, time.Minute)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
	}

	// The counter never passed the limit, so it expires with the first window.
	mr.FastForward(time.Minute + time.Second)

	res, err := st.TryConsume(ctx, "key", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRedis_WindowReset(t *testing.T) {
	st, mr := newTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := st.TryConsume(ctx, "key", 2, time.Minute)
		require.NoError(t, err)
	}

	res, err := st.TryConsume(ctx, "key", 2, time.Minute)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	mr.FastForward(time.Minute + time.Second)

	res, err = st.TryConsume(ctx, "key", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)
}

func TestRedis_IndependentKeys(t *testing.T) {
	st, _ := newTestRedis(t)
	ctx := context.Background()

	_, err := st.TryConsume(ctx, "a", 1, time.Minute)
	require.NoError(t, err)

	res, err := st.TryConsume(ctx, "b", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRedis_KeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	st := NewRedisWithClient(client, "custom:")
	_, err := st.TryConsume(context.Background(), "key", 1, time.Minute)
	require.NoError(t, err)

	assert.True(t, mr.Exists("custom:key"))
}

func TestParseConsumeReply(t *testing.T) {
	res, err := parseConsumeReply([]interface{}{int64(1), int64(2), int64(30000)}, 5)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 3, res.Remaining)
	assert.Equal(t, 30*time.Second, res.Reset)
}

func TestParseConsumeReply_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  interface{}
	}{
		{"not a slice", "OK"},
		{"wrong length", []interface{}{int64(1), int64(2)}},
		{"string element", []interface{}{"1", int64(2), int64(30000)}},
		{"nil element", []interface{}{int64(1), nil, int64(30000)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseConsumeReply(tt.raw, 5)
			assert.Error(t, err)
		})
	}
}

func TestRedis_DefaultPrefix(t *testing.T) {
	st, mr := newTestRedis(t)

	_, err := st.TryConsume(context.Background(), "user:1:API", 1, time.Minute)
	require.NoError(t, err)

	assert.True(t, mr.Exists("ratelimit:user:1:API"))
}
