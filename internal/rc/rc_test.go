package rc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounterBasics(t *testing.T) {
	c := New(3)
	assert.Equal(t, 3, c.Value())

	assert.Equal(t, 2, c.Decrease())
	assert.Equal(t, 3, c.Increase())

	c.Set(10)
	assert.Equal(t, 10, c.Value())

	assert.Equal(t, 7, c.Add(-3))
	assert.Equal(t, 7, c.Value())
}

func TestCounterConcurrentDecrease(t *testing.T) {
	const n = 1000
	c := New(n)

	var wg sync.WaitGroup
	var zeroObservations int32
	var mu sync.Mutex

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if c.Decrease() == 0 {
				mu.Lock()
				zeroObservations++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), zeroObservations, "exactly one decrement must observe the transition to zero")
	assert.Equal(t, 0, c.Value())
}
