package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualClock_StartsAtDefault(t *testing.T) {
	clock := NewManualClock(time.Time{})
	assert.Equal(t, DefaultTime, clock.Now())
}

func TestManualClock_OnlyMovesWhenTold(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)

	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start, clock.Now())

	assert.Equal(t, start.Add(time.Minute), clock.Advance(time.Minute))
	assert.Equal(t, start.Add(time.Minute), clock.Now())

	clock.Set(start)
	assert.Equal(t, start, clock.Now())
}

func TestSequence_Consecutive(t *testing.T) {
	seq := NewSequence(1000)

	assert.Equal(t, int64(1000), seq.Next())
	assert.Equal(t, int64(1001), seq.Next())
	assert.Equal(t, int64(1002), seq.Next())
}

func TestSequence_ThreadSafe(t *testing.T) {
	seq := NewSequence(1)
	const numGoroutines = 50
	const callsPerGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	results := make([][]int64, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		results[i] = make([]int64, callsPerGoroutine)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				results[idx][j] = seq.Next()
			}
		}(i)
	}

	wg.Wait()

	seen := make(map[int64]bool)
	for i := 0; i < numGoroutines; i++ {
		for j := 0; j < callsPerGoroutine; j++ {
			val := results[i][j]
			require.False(t, seen[val], "duplicate value %d", val)
			seen[val] = true
		}
	}
	assert.Len(t, seen, numGoroutines*callsPerGoroutine)
}
