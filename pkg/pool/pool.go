// Package pool implements the ProvisionPool: a fixed-capacity array of
// Provisions with a dirty bitset and O(1) hint-biased borrow/release. The
// bookkeeping idiom — a LIFO free list guarding a fixed slot array, with
// live counts for reporting — is adapted from a per-host client connection
// cache (keyed by "host:port", grown lazily, blocking via sync.Cond when
// exhausted) to a per-worker, fixed-capacity server pool sized once at
// startup. The blocking-wait behavior has no home here: the accept loop's
// admission control already prevents borrowing against a full pool, so
// Borrow reports fullness instead of waiting on a condition variable.
package pool

import "github.com/WhileEndless/go-rawserver/pkg/provision"

// Pool is a fixed-capacity array of Provisions with a dirty bitset marking
// which slots are in use.
type Pool struct {
	provisions []*provision.Provision
	dirty      []bool
	idle       []int // LIFO stack of clean slot indices
	posInIdle  []int // slot index -> position in idle, -1 if dirty
	dirtyCount int
}

// New allocates capacity Provisions up front and seeds the free list.
func New(capacity int, cfg provision.Config) *Pool {
	p := &Pool{
		provisions: make([]*provision.Provision, capacity),
		dirty:      make([]bool, capacity),
		idle:       make([]int, capacity),
		posInIdle:  make([]int, capacity),
	}
	for i := 0; i < capacity; i++ {
		p.provisions[i] = provision.New(i, cfg)
		p.idle[i] = i
		p.posInIdle[i] = i
	}
	return p
}

// Capacity returns the pool's fixed size.
func (p *Pool) Capacity() int { return len(p.provisions) }

// Clean returns the number of free slots.
func (p *Pool) Clean() int { return len(p.idle) }

// Full reports whether every slot is dirty.
func (p *Pool) Full() bool { return p.dirtyCount == len(p.provisions) }

// At returns the Provision at a known slot index, regardless of dirty
// state. Used by the accept loop after Borrow and by close handling, which
// already knows its own index.
func (p *Pool) At(index int) *provision.Provision { return p.provisions[index] }

// Borrow returns the hinted slot when it is clean (the caller's own task
// index, for cache affinity), otherwise the most recently freed clean slot
// from the top of the LIFO free list. ok is false iff the pool is
// full; the accept loop must never call Borrow against a full pool, so
// callers should treat a false return as a bug, not a runtime condition.
func (p *Pool) Borrow(hint int) (prov *provision.Provision, index int, ok bool) {
	if len(p.idle) == 0 {
		return nil, -1, false
	}

	idx := -1
	if hint >= 0 && hint < len(p.dirty) && !p.dirty[hint] {
		idx = hint
	} else {
		idx = p.idle[len(p.idle)-1]
	}

	p.removeFromIdle(idx)
	p.dirty[idx] = true
	p.dirtyCount++
	return p.provisions[idx], idx, true
}

// Release marks index clean and returns it to the free list. Releasing an
// already-clean slot is a no-op.
func (p *Pool) Release(index int) {
	if !p.dirty[index] {
		return
	}
	p.dirty[index] = false
	p.dirtyCount--
	p.posInIdle[index] = len(p.idle)
	p.idle = append(p.idle, index)
}

func (p *Pool) removeFromIdle(index int) {
	pos := p.posInIdle[index]
	last := len(p.idle) - 1
	lastIdx := p.idle[last]
	p.idle[pos] = lastIdx
	p.posInIdle[lastIdx] = pos
	p.idle = p.idle[:last]
	p.posInIdle[index] = -1
}

// Stats reports one worker's pool occupancy, the single-pool analogue of a
// stats shape that would otherwise be keyed by host or target.
type Stats struct {
	Capacity int
	Active   int
	Idle     int
}

// Stats reports current pool occupancy.
func (p *Pool) Stats() Stats {
	return Stats{
		Capacity: len(p.provisions),
		Active:   p.dirtyCount,
		Idle:     len(p.idle),
	}
}
