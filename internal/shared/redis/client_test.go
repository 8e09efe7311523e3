package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := New(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestGetCountMissingKeyIsZero(t *testing.T) {
	client, _ := newTestClient(t)

	count, err := client.GetCount(context.Background(), "ratelimit:req:nobody:0")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestIncrWindowSetsTTLOnFirstIncrement(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()
	key := "ratelimit:req:user-1:1000"

	count, err := client.IncrWindow(ctx, key, 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, time.Minute, mr.TTL(key))

	count, err = client.IncrWindow(ctx, key, 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestIncrWindowByAmount(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()
	key := "ratelimit:tok:user-1:1000"

	count, err := client.IncrWindow(ctx, key, 250, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(250), count)
	assert.Equal(t, time.Hour, mr.TTL(key))

	got, err := client.GetCount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(250), got)
}

func TestCounterExpiresWithWindow(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()
	key := "ratelimit:req:user-1:2000"

	_, err := client.IncrWindow(ctx, key, 1, time.Minute)
	require.NoError(t, err)

	mr.FastForward(61 * time.Second)

	count, err := client.GetCount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
