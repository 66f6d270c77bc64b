package clock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextIncrementsMonotonically(t *testing.T) {
	c := New(0)
	assert.Equal(t, uint64(0), c.Next())
	assert.Equal(t, uint64(1), c.Next())
	assert.Equal(t, uint64(2), c.Next())
	assert.Equal(t, uint64(3), c.Peek())
}

func TestNewRestoresStartingPoint(t *testing.T) {
	c := New(42)
	assert.Equal(t, uint64(42), c.Next())
	assert.Equal(t, uint64(43), c.Peek())
}

func TestObserveAdvancesPastRemote(t *testing.T) {
	c := New(0)
	c.Next() // 0
	c.Observe(10)
	assert.Equal(t, uint64(11), c.Peek())
}

func TestObserveNeverGoesBackwards(t *testing.T) {
	c := New(100)
	c.Observe(5)
	assert.Equal(t, uint64(100), c.Peek())
}

func TestNextConcurrentUnique(t *testing.T) {
	c := New(0)
	const n = 200
	seen := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- c.Next()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[uint64]bool)
	for v := range seen {
		assert.False(t, unique[v], "duplicate counter value %d", v)
		unique[v] = true
	}
	assert.Len(t, unique, n)
}
