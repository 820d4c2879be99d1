package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTrip(t *testing.T) {
	c := New()
	c.Set("k", "v", time.Minute)
	v, ok := c.Get("kind", "k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestGetExpired(t *testing.T) {
	c := New()
	c.Set("k", "v", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get("kind", "k")
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	c := New()
	c.Set("k", "v", time.Minute)
	c.Invalidate("k")
	_, ok := c.Get("kind", "k")
	assert.False(t, ok)
}

func TestInvalidatePrefix(t *testing.T) {
	c := New()
	c.Set("prefixes:a", 1, time.Minute)
	c.Set("prefixes:b", 2, time.Minute)
	c.Set("other", 3, time.Minute)
	c.InvalidatePrefix("prefixes:")
	_, ok := c.Get("kind", "prefixes:a")
	assert.False(t, ok)
	_, ok = c.Get("kind", "other")
	assert.True(t, ok)
}

func TestGetOrFetchCoalesces(t *testing.T) {
	c := New()
	var calls int32
	fetch := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return "value", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrFetch(context.Background(), "kind", "shared-key", time.Minute, fetch)
			require.NoError(t, err)
			assert.Equal(t, "value", v)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetOrFetchDoesNotCacheErrors(t *testing.T) {
	c := New()
	attempt := 0
	fetch := func(ctx context.Context) (any, error) {
		attempt++
		if attempt == 1 {
			return nil, assertErr
		}
		return "ok", nil
	}
	_, err := c.GetOrFetch(context.Background(), "kind", "k", time.Minute, fetch)
	assert.Error(t, err)
	v, err := c.GetOrFetch(context.Background(), "kind", "k", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

var assertErr = simpleErr("boom")
