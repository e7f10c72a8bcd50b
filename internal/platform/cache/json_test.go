package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCacheFetchPopulatesOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewJSONCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return []string{"oyun", "yazilim"}, nil
	}

	var first, second []string
	require.NoError(t, c.Fetch(ctx, "k", &first, loader))
	require.NoError(t, c.Fetch(ctx, "k", &second, loader))
	assert.Equal(t, []string{"oyun", "yazilim"}, second)
	assert.Equal(t, 1, calls)

	require.NoError(t, c.Invalidate(ctx, "k"))
	require.NoError(t, c.Fetch(ctx, "k", &second, loader))
	assert.Equal(t, 2, calls)
}

func TestJSONCacheWithoutClientCallsLoader(t *testing.T) {
	var c *JSONCache
	var out int
	require.NoError(t, c.Fetch(context.Background(), "k", &out, func(context.Context) (any, error) { return 7, nil }))
	assert.Equal(t, 7, out)

	err := c.Fetch(context.Background(), "k", &out, func(context.Context) (any, error) { return nil, errors.New("boom") })
	require.Error(t, err)
}
