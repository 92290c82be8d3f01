// Package snapshot holds the join-time world description a session receives
// before it spawns: the baseline table, the configstring table, and the
// writers that serialise them plainly or through the shared deflate slot.
package snapshot

import (
	"github.com/energizer-project/fragline/internal/protocol"
)

// Baseline table geometry. Chunks are allocated on first use.
const (
	BaselinesChunks   = 16
	BaselinesPerChunk = protocol.MaxEdicts / BaselinesChunks
)

// EntityPool is the simulation's entity array as seen by the join path.
type EntityPool interface {
	NumEntities() int
	Entity(i int) (state protocol.EntityState, inUse bool)
}

// Baselines is a session's baseline table: the state every visible entity
// had when the session joined, indexed by entity number.
type Baselines struct {
	chunks [BaselinesChunks]*[BaselinesPerChunk]protocol.EntityState
	count  int
}

// visible reports whether the state carries anything the client can see or
// hear.
func visible(s *protocol.EntityState) bool {
	return s.ModelIndex != 0 || s.Effects != 0 || s.Sound != 0 || s.Event != 0
}

// Clear zeroes every allocated chunk.
func (b *Baselines) Clear() {
	for _, c := range b.chunks {
		if c != nil {
			*c = [BaselinesPerChunk]protocol.EntityState{}
		}
	}
	b.count = 0
}

// Rebuild clears the table and captures the current state of every in-use,
// visible entity of pool. Entity 0 is the world and is never stored.
func (b *Baselines) Rebuild(pool EntityPool) {
	b.Clear()
	if pool == nil {
		return
	}

	n := pool.NumEntities()
	if n > protocol.MaxEdicts {
		n = protocol.MaxEdicts
	}
	for i := 1; i < n; i++ {
		s, inUse := pool.Entity(i)
		if !inUse || !visible(&s) {
			continue
		}
		s.Number = i

		chunk := b.chunks[i/BaselinesPerChunk]
		if chunk == nil {
			chunk = new([BaselinesPerChunk]protocol.EntityState)
			b.chunks[i/BaselinesPerChunk] = chunk
		}
		chunk[i%BaselinesPerChunk] = s
		b.count++
	}
}

// Get returns the baseline of entity n, or nil when none is stored.
func (b *Baselines) Get(n int) *protocol.EntityState {
	if n <= 0 || n >= protocol.MaxEdicts {
		return nil
	}
	chunk := b.chunks[n/BaselinesPerChunk]
	if chunk == nil || chunk[n%BaselinesPerChunk].Number == 0 {
		return nil
	}
	return &chunk[n%BaselinesPerChunk]
}

// Len returns the number of stored baselines.
func (b *Baselines) Len() int {
	return b.count
}

// Each calls fn for every stored baseline in entity number order.
func (b *Baselines) Each(fn func(s *protocol.EntityState)) {
	for _, chunk := range b.chunks {
		if chunk == nil {
			continue
		}
		for j := range chunk {
			if chunk[j].Number != 0 {
				fn(&chunk[j])
			}
		}
	}
}

// Allocated returns how many chunks have been allocated.
func (b *Baselines) Allocated() int {
	n := 0
	for _, c := range b.chunks {
		if c != nil {
			n++
		}
	}
	return n
}
