package identifier_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace-dev/confrelay/internal/identifier"
)

func TestDrawReturnsPositiveID(t *testing.T) {
	id, err := identifier.Draw(func(uint64) bool { return false })
	require.NoError(t, err)
	assert.Greater(t, id, uint64(0))
}

func TestDrawRetriesOnCollision(t *testing.T) {
	seen := map[uint64]bool{}
	first, err := identifier.Draw(func(uint64) bool { return false })
	require.NoError(t, err)
	seen[first] = true

	id, err := identifier.Draw(func(id uint64) bool { return seen[id] })
	require.NoError(t, err)
	assert.NotEqual(t, first, id)
}

func TestDrawIsUniqueUnderConcurrency(t *testing.T) {
	var mu sync.Mutex
	table := make(map[uint64]bool)

	const n = 200
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mu.Lock()
			id, err := identifier.Draw(func(id uint64) bool { return table[id] })
			if err == nil {
				table[id] = true
			}
			mu.Unlock()
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, table, n)
}
