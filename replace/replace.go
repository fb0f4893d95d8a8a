// Package replace implements the page-replacement engine of spec §4.6
// (component C6): CLOCK and FIFO policies sharing one resident-page
// queue. Grounded on original_source/on_demand.c's
// page_replacement_clock/page_replacement_fifo/clear_up_memory.
//
// The queue is indexed by virtual page number rather than by a raw
// PTE pointer, per spec §8's "Cyclic/back references" note: resolving
// to the live PTE through the walker at each use avoids the queue
// ever holding a pointer that outlives its backing table. Evict takes
// a lookup function supplied by the caller (the fault handler, which
// owns the walker) rather than importing petmem/pagetable itself.
package replace

import "petmem/mem"
import "petmem/defs"

// Policy selects which replacement discipline Evict applies.
type Policy int

const (
	CLOCK Policy = iota
	FIFO
)

// Engine holds one address space's resident-page queue. CLOCK and
// FIFO share it; only Evict's behavior differs by policy (spec §4.6:
// "both policies mutate the same queue").
type Engine struct {
	Policy Policy
	queue  []uint64 // virtual page numbers, head = index 0, tail = end
}

// / NewEngine creates an empty resident queue under the given policy.
func NewEngine(policy Policy) *Engine {
	return &Engine{Policy: policy}
}

// / Len returns the number of resident entries.
func (e *Engine) Len() int { return len(e.queue) }

// / Enqueue registers vpn as a newly resident data page, appended to
// / the tail (spec §4.6: "FIFO pushes to tail"; CLOCK's insertion
// / point is likewise the tail, since eviction already rotates
// / second-chance survivors there).
func (e *Engine) Enqueue(vpn uint64) {
	e.queue = append(e.queue, vpn)
}

// / Remove drops vpn from the queue without running any replacement
// / policy, for when the page's owning region is freed outright (spec
// / §8: "dequeuing any entry whose leaf PTE's region is freed").
// / Reports whether vpn was present.
func (e *Engine) Remove(vpn uint64) bool {
	for i, v := range e.queue {
		if v == vpn {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			return true
		}
	}
	return false
}

// / Evict selects a victim page and removes it from the queue,
// / following e.Policy. lookup resolves a VPN to its live PTE, needed
// / by CLOCK to read and clear the accessed bit. Returns
// / defs.ENOVICTIM if the queue is empty — the spec §9 fix for the
// / source's infinite spin on an empty queue — rather than blocking.
func (e *Engine) Evict(lookup func(vpn uint64) *mem.Pte_t) (uint64, defs.Err_t) {
	if len(e.queue) == 0 {
		return 0, defs.ENOVICTIM
	}

	switch e.Policy {
	case FIFO:
		victim := e.queue[0]
		e.queue = e.queue[1:]
		return victim, 0

	default: // CLOCK
		// Classic second-chance scan: pop the head, and if its PTE was
		// accessed, clear the bit and rotate it to the tail to give it
		// another lap; otherwise it is the victim. Bounding the loop
		// at 2*len+1 pops guarantees termination: by the end of one
		// full pass every surviving entry's accessed bit is clear, so
		// a second pass always finds a victim.
		bound := 2*len(e.queue) + 1
		for i := 0; i < bound && len(e.queue) > 0; i++ {
			vpn := e.queue[0]
			e.queue = e.queue[1:]
			pte := lookup(vpn)
			if pte != nil && pte.Accessed() {
				pte.SetAccessed(false)
				e.queue = append(e.queue, vpn)
				continue
			}
			return vpn, 0
		}
		return 0, defs.ENOVICTIM
	}
}

// / Entries returns the queue's VPNs in order, for DUMP_STATE and
// / tests. The returned slice must not be mutated.
func (e *Engine) Entries() []uint64 {
	out := make([]uint64, len(e.queue))
	copy(out, e.queue)
	return out
}
