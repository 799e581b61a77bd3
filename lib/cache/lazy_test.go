package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLazyConcurrentCallersShareOneComputation(t *testing.T) {
	c := NewLazy[int](time.Minute, 0)
	defer c.Close()

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	const callers = 50
	var wg sync.WaitGroup
	var started sync.WaitGroup
	results := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		started.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			value, err := c.Get(context.Background(), "key", fn)
			assert.NoError(t, err)
			results[i] = value
		}(i)
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, value := range results {
		assert.Equal(t, 42, value)
	}

	// later callers within the ttl hit the memo
	value, err := c.Get(context.Background(), "key", fn)
	require.NoError(t, err)
	assert.Equal(t, 42, value)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLazyExpires(t *testing.T) {
	c := NewLazy[string](30*time.Millisecond, time.Hour)
	defer c.Close()

	var calls atomic.Int32
	fn := func(context.Context) (string, error) {
		calls.Add(1)
		return "v", nil
	}

	_, err := c.Get(context.Background(), "key", fn)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = c.Get(context.Background(), "key", fn)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
}

func TestLazyDoesNotKeepErrors(t *testing.T) {
	c := NewLazy[int](time.Minute, 0)
	defer c.Close()

	var calls atomic.Int32
	failing := func(context.Context) (int, error) {
		calls.Add(1)
		return 0, errors.New("repository down")
	}

	_, err := c.Get(context.Background(), "key", failing)
	require.EqualError(t, err, "repository down")

	value, err := c.Get(context.Background(), "key", func(context.Context) (int, error) {
		calls.Add(1)
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, value)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLazyKeysAreIndependent(t *testing.T) {
	c := NewLazy[string](time.Minute, 0)
	defer c.Close()

	a, err := c.Get(context.Background(), "a", func(context.Context) (string, error) { return "A", nil })
	require.NoError(t, err)
	b, err := c.Get(context.Background(), "b", func(context.Context) (string, error) { return "B", nil })
	require.NoError(t, err)

	assert.Equal(t, "A", a)
	assert.Equal(t, "B", b)
	assert.Equal(t, 2, c.Len())

	c.Forget("a")
	assert.Equal(t, 1, c.Len())
}

func TestLazyFlightIgnoresCallerCancellation(t *testing.T) {
	c := NewLazy[int](time.Minute, 0)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	value, err := c.Get(ctx, "key", func(ctx context.Context) (int, error) {
		return 1, ctx.Err()
	})
	require.NoError(t, err)
	assert.Equal(t, 1, value)
}

func TestLazyCleanupEvictsExpired(t *testing.T) {
	c := NewLazy[int](10*time.Millisecond, 10*time.Millisecond)
	defer c.Close()

	_, err := c.Get(context.Background(), "key", func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestLazyCloseIsIdempotent(t *testing.T) {
	c := NewLazy[int](time.Minute, 0)
	c.Close()
	c.Close()
}
