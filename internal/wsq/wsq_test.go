package wsq

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopBottomLIFO(t *testing.T) {
	d := New[int](4)
	for i := 0; i < 3; i++ {
		d.PushBottom(i)
	}

	v, ok := d.PopBottom()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	v, ok = d.PopBottom()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = d.PopBottom()
	require.True(t, ok)
	assert.Equal(t, 0, v)

	_, ok = d.PopBottom()
	assert.False(t, ok)
}

func TestStealFIFOFromOpposite(t *testing.T) {
	d := New[int](4)
	for i := 0; i < 5; i++ {
		d.PushBottom(i)
	}

	v, ok := d.Steal()
	require.True(t, ok)
	assert.Equal(t, 0, v, "steal takes the oldest pushed item")

	v, ok = d.Steal()
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestGrowsPastInitialCapacity(t *testing.T) {
	d := New[int](4) // rounds up to 32
	for i := 0; i < 200; i++ {
		d.PushBottom(i)
	}
	assert.Equal(t, 200, d.Len())

	for i := 199; i >= 0; i-- {
		v, ok := d.PopBottom()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	assert.True(t, d.Empty())
}

// TestConcurrentStealersNoDuplication exercises the Chase-Lev race: one
// owner pushing/popping while many thieves steal, with every pushed
// value observed by exactly one consumer.
func TestConcurrentStealersNoDuplication(t *testing.T) {
	d := New[int](32)
	const total = 5000

	var mu sync.Mutex
	seen := make([]int, 0, total)
	record := func(v int) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
	}

	var thieves sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		thieves.Add(1)
		go func() {
			defer thieves.Done()
			for {
				select {
				case <-stop:
					for {
						v, ok := d.Steal()
						if !ok {
							return
						}
						record(v)
					}
				default:
					if v, ok := d.Steal(); ok {
						record(v)
					}
				}
			}
		}()
	}

	for i := 0; i < total; i++ {
		d.PushBottom(i)
		if i%7 == 0 {
			if v, ok := d.PopBottom(); ok {
				record(v)
			}
		}
	}
	close(stop)
	thieves.Wait()

	for {
		v, ok := d.PopBottom()
		if !ok {
			break
		}
		record(v)
	}

	sort.Ints(seen)
	require.Len(t, seen, total)
	for i, v := range seen {
		assert.Equal(t, i, v)
	}
}
