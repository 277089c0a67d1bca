package ids

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_UniqueAndIncreasingOnFrozenClock(t *testing.T) {
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewGenerator(7, func() time.Time { return frozen })

	prev := int64(0)
	seen := make(map[int64]struct{})
	for i := 0; i < 10000; i++ {
		id := g.Next()
		require.Greater(t, id, prev)
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
		prev = id
	}
}

func TestGenerator_ClockBackwards(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC)
	g := NewGenerator(1, func() time.Time { return now })

	a := g.Next()
	now = now.Add(-time.Second)
	b := g.Next()
	assert.Greater(t, b, a)
}

func TestGenerator_NodeIDEncoded(t *testing.T) {
	g := NewGenerator(5, nil)
	id := g.Next()
	assert.Equal(t, int64(5), (id>>12)&0x3FF)

	bad := NewGenerator(4096, nil)
	assert.Equal(t, int64(1), (bad.Next()>>12)&0x3FF)
}

func TestGenerateString_Concurrent(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				id := GenerateString()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 4000)
}
