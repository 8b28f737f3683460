package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetGetDelete(t *testing.T) {
	t.Parallel()

	c := New[string, int]()
	defer c.Stop()

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", 1)
	c.Set("a", 2)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Size())

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)

	c.Set("b", 1)
	c.Clear()
	assert.Zero(t, c.Size())
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	c := New(WithMaxSize[string, int](2))
	defer c.Stop()

	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a") // b is now the oldest
	c.Set("c", 3)

	assert.Equal(t, 2, c.Size())
	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestCache_GetOrLoad(t *testing.T) {
	t.Parallel()

	calls := 0
	c := New(WithLoadFunc(func(ctx context.Context, key string) (string, error) {
		calls++
		if key == "missing" {
			return "", errors.New("not found")
		}
		return "v-" + key, nil
	}))
	defer c.Stop()

	ctx := context.Background()
	v, err := c.GetOrLoad(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "v-x", v)

	v, err = c.GetOrLoad(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "v-x", v)
	assert.Equal(t, 1, calls)

	_, err = c.GetOrLoad(ctx, "missing")
	assert.Error(t, err)
	assert.Equal(t, 1, c.Size())
}

func TestCache_GetOrLoadWithoutLoader(t *testing.T) {
	t.Parallel()

	c := New[string, *int]()
	v, err := c.GetOrLoad(context.Background(), "k")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := New(WithMaxSize[string, int](64))
	defer c.Stop()

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 200 {
				key := fmt.Sprintf("k%d", (i*200+j)%100)
				c.Set(key, j)
				c.Get(key)
				if j%7 == 0 {
					c.Delete(key)
				}
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Size(), 64)
}

func TestCache_Expiry(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		expiry := 100 * time.Millisecond
		c := New(WithExpiry[string, string](expiry))
		defer c.Stop()

		c.Set("key1", "value1")

		time.Sleep(50 * time.Millisecond)
		v, ok := c.Get("key1")
		assert.True(t, ok)
		assert.Equal(t, "value1", v)

		// Reads do not extend the lifetime.
		time.Sleep(60 * time.Millisecond)
		_, ok = c.Get("key1")
		assert.False(t, ok)
	})
}

func TestCache_CleanupTimerSweeps(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		expiry := 50 * time.Millisecond
		c := New(WithExpiry[string, int](expiry))
		defer c.Stop()

		c.Set("a", 1)
		c.Set("b", 2)
		assert.Equal(t, 2, c.Size())

		time.Sleep(2*expiry + time.Millisecond)
		synctest.Wait()
		assert.Equal(t, 0, c.Size())
	})
}
