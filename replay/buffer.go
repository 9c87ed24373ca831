// Package replay stores experience for off-policy training.
package replay

import (
	"errors"
	"math/rand"
	"sync"

	"github.com/brensch/zoobot/features"
	"github.com/brensch/zoobot/game"
)

// ErrNotEnough is returned when a sample larger than the buffer is requested.
var ErrNotEnough = errors.New("replay: not enough transitions to sample")

// Transition is one recorded experience. The tensors are shared, never copied,
// and must not be mutated once recorded.
type Transition struct {
	State    *features.Tensor
	Action   game.Action
	Reward   float64
	Next     *features.Tensor
	Terminal bool
}

// Buffer is a fixed-capacity FIFO ring of transitions. It is safe for one
// producer (the decision path) and one consumer (the trainer) at once.
type Buffer struct {
	mu    sync.Mutex
	items []Transition
	head  int
	size  int
	added uint64
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{items: make([]Transition, capacity)}
}

// Add stores t, evicting the oldest transition when full.
func (b *Buffer) Add(t Transition) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = t
	b.head = (b.head + 1) % len(b.items)
	if b.size < len(b.items) {
		b.size++
	}
	b.added++
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *Buffer) Cap() int { return len(b.items) }

// Added is the total number of transitions ever inserted.
func (b *Buffer) Added() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.added
}

// Sample draws n distinct transitions uniformly at random. rng is owned by
// the caller.
func (b *Buffer) Sample(n int, rng *rand.Rand) ([]Transition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || n > b.size {
		return nil, ErrNotEnough
	}

	// Partial Fisher-Yates over the occupied slots.
	indices := make([]int, b.size)
	for i := range indices {
		indices[i] = i
	}
	out := make([]Transition, n)
	for i := 0; i < n; i++ {
		j := i + rng.Intn(b.size-i)
		indices[i], indices[j] = indices[j], indices[i]
		out[i] = b.items[b.slot(indices[i])]
	}
	return out, nil
}

// Items returns the stored transitions, oldest first.
func (b *Buffer) Items() []Transition {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Transition, b.size)
	for i := range out {
		out[i] = b.items[b.slot(i)]
	}
	return out
}

// slot maps an age-ordered position (0 = oldest) to a ring index.
func (b *Buffer) slot(i int) int {
	start := b.head - b.size
	if start < 0 {
		start += len(b.items)
	}
	return (start + i) % len(b.items)
}
