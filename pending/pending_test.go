package pending

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_CreateConsume(t *testing.T) {
	t.Parallel()
	c := NewCache()

	id, err := c.Create("fv", "correlation-data", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := c.Consume(id)
	require.NoError(t, err)
	assert.Equal(t, "fv", got.HandlerID)
	assert.Equal(t, "correlation-data", got.Data)
	assert.WithinDuration(t, time.Now(), got.CreatedAt, 5*time.Second)
}

func TestCache_CreateInvalid(t *testing.T) {
	t.Parallel()
	c := NewCache()

	_, err := c.Create("", "x", time.Minute)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = c.Create("fv", "x", 0)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestCache_SingleUse(t *testing.T) {
	t.Parallel()
	c := NewCache()

	id, err := c.Create("ia", nil, time.Minute)
	require.NoError(t, err)

	_, err = c.Consume(id)
	require.NoError(t, err)

	_, err = c.Consume(id)
	assert.ErrorIs(t, err, ErrNoEntry)
}

func TestCache_UnknownID(t *testing.T) {
	t.Parallel()
	c := NewCache()
	_, err := c.Consume("st_never-issued")
	assert.ErrorIs(t, err, ErrNoEntry)
}

func TestCache_Expiry(t *testing.T) {
	t.Parallel()
	c := NewCache(WithSweepInterval(time.Hour)) // sweep never fires during the test

	id, err := c.Create("e", "data", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	// expired reads fail identically to missing ones, even though the
	// janitor has not run
	_, err = c.Consume(id)
	assert.ErrorIs(t, err, ErrNoEntry)
}

func TestCache_ConcurrentCreate(t *testing.T) {
	t.Parallel()
	const n = 100
	c := NewCache()

	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := c.Create("fv", i, time.Minute)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		require.NotEmpty(t, id)
		require.Falsef(t, seen[id], "duplicate state id %s", id)
		seen[id] = true
	}
}

func TestCache_ConcurrentConsume(t *testing.T) {
	t.Parallel()
	const n = 50
	c := NewCache()

	id, err := c.Create("ia", "winner-takes-all", time.Minute)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Consume(id); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one concurrent consume must succeed")
}
