package replay

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tr(reward float64) Transition {
	return Transition{Reward: reward}
}

func rewards(ts []Transition) []float64 {
	out := make([]float64, len(ts))
	for i, t := range ts {
		out[i] = t.Reward
	}
	return out
}

func TestBufferNeverExceedsCapacity(t *testing.T) {
	b := NewBuffer(5)
	for i := 0; i < 23; i++ {
		b.Add(tr(float64(i)))
		assert.LessOrEqual(t, b.Len(), b.Cap())
	}
	assert.Equal(t, 5, b.Len())
	assert.Equal(t, uint64(23), b.Added())
}

func TestBufferFIFOEviction(t *testing.T) {
	const capacity = 4
	b := NewBuffer(capacity)
	for i := 0; i <= capacity; i++ {
		b.Add(tr(float64(i)))
	}

	got := rewards(b.Items())
	assert.Equal(t, []float64{1, 2, 3, 4}, got)
	assert.NotContains(t, got, 0.0)
	assert.Contains(t, got, float64(capacity))
}

func TestSampleWithoutReplacement(t *testing.T) {
	b := NewBuffer(50)
	for i := 0; i < 40; i++ {
		b.Add(tr(float64(i)))
	}
	rng := rand.New(rand.NewSource(1))

	for round := 0; round < 20; round++ {
		batch, err := b.Sample(32, rng)
		require.NoError(t, err)
		require.Len(t, batch, 32)

		seen := map[float64]bool{}
		for _, v := range rewards(batch) {
			assert.False(t, seen[v], "duplicate %v in batch", v)
			seen[v] = true
			assert.GreaterOrEqual(t, v, 0.0)
			assert.Less(t, v, 40.0)
		}
	}
}

func TestSampleCoversWholeRing(t *testing.T) {
	b := NewBuffer(8)
	for i := 0; i < 13; i++ {
		b.Add(tr(float64(i)))
	}
	batch, err := b.Sample(8, rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	assert.ElementsMatch(t, []float64{5, 6, 7, 8, 9, 10, 11, 12}, rewards(batch))
}

func TestSampleNotEnough(t *testing.T) {
	b := NewBuffer(10)
	b.Add(tr(1))
	_, err := b.Sample(2, rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, ErrNotEnough)
}

func TestConcurrentAddAndSample(t *testing.T) {
	b := NewBuffer(64)
	for i := 0; i < 32; i++ {
		b.Add(tr(1))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			b.Add(tr(1))
		}
	}()
	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewSource(3))
		for i := 0; i < 200; i++ {
			batch, err := b.Sample(32, rng)
			if assert.NoError(t, err) {
				assert.Len(t, batch, 32)
			}
		}
	}()
	wg.Wait()
	assert.Equal(t, 64, b.Len())
}
