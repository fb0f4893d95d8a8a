// Package buddy implements the physical frame allocator of spec §4.1
// (component C1): a buddy system over one or more pools of donated
// physical memory. The free-list-per-order plus per-block state
// tracking follows the data model of spec §3 directly; the split/
// coalesce control flow is grounded in the bitmap-indexed buddy
// allocator of achilleasa-gopher-os's kernel/mem/physical package,
// adapted from a flat bitmap to the explicit tag/free-list pair the
// spec calls for, and the multi-pool donation/registry machinery is
// grounded in the C petmem source's ADD_MEMORY handling
// (original_source/main.c) and its global pool list.
package buddy

import (
	"fmt"

	"petmem/mem"
	"petmem/telemetry"
	"petmem/util"
)

// blockStatus records whether a tracked block is currently free or
// allocated, the "tag-bit" of spec §3.
type blockStatus uint8

const (
	statusFree blockStatus = iota
	statusAllocated
)

type blockState struct {
	order  uint
	status blockStatus
}

// Pool owns one contiguous, power-of-two-sized run of physical memory
// and allocates/frees power-of-two-sized runs within it. Pool-relative
// addresses (offsets from Base) are used internally so buddy
// computation (addr XOR (1<<order)) stays independent of the pool's
// placement in the physical address space.
type Pool struct {
	Base       mem.Pa_t
	TotalOrder uint
	MinOrder   uint

	// free[k] holds the pool-relative addresses of blocks free at
	// order MinOrder+k. Modeled as a stack: order doesn't matter
	// within a level, only the set of free blocks at that level.
	free [][]uintptr

	// state records the tracked order and status of every block whose
	// start address has ever been handed out as a unit (free or
	// allocated), keyed by pool-relative address. A buddy lookup
	// during free() consults this to test "is my buddy free and
	// tracked at the same order".
	state map[uintptr]blockState
}

// / Init installs one maximal free block of size 1<<totalOrder at
// / base, bounding allocation granularity to minOrder (spec §4.1).
func Init(base mem.Pa_t, totalOrder, minOrder uint) (*Pool, error) {
	if minOrder > totalOrder {
		return nil, fmt.Errorf("buddy: min order %d exceeds total order %d", minOrder, totalOrder)
	}
	levels := totalOrder - minOrder + 1
	p := &Pool{
		Base:       base,
		TotalOrder: totalOrder,
		MinOrder:   minOrder,
		free:       make([][]uintptr, levels),
		state:      make(map[uintptr]blockState),
	}
	p.free[levels-1] = []uintptr{0}
	p.state[0] = blockState{order: totalOrder, status: statusFree}
	return p, nil
}

func (p *Pool) levelIndex(order uint) int { return int(order - p.MinOrder) }

// / Contains reports whether addr falls within this pool's span.
func (p *Pool) Contains(addr mem.Pa_t) bool {
	return addr >= p.Base && addr < p.Base+mem.Pa_t(1<<p.TotalOrder)
}

func (p *Pool) pop(order uint) (uintptr, bool) {
	i := p.levelIndex(order)
	l := p.free[i]
	if len(l) == 0 {
		return 0, false
	}
	addr := l[len(l)-1]
	p.free[i] = l[:len(l)-1]
	return addr, true
}

func (p *Pool) push(order uint, addr uintptr) {
	i := p.levelIndex(order)
	p.free[i] = append(p.free[i], addr)
}

func (p *Pool) remove(order uint, addr uintptr) bool {
	i := p.levelIndex(order)
	l := p.free[i]
	for j, a := range l {
		if a == addr {
			l[j] = l[len(l)-1]
			p.free[i] = l[:len(l)-1]
			return true
		}
	}
	return false
}

// / Alloc returns a block whose size is 1<<max(order, MinOrder),
// / choosing the smallest free block whose order is >= the request and
// / splitting high-half first (spec §4.1). It returns ok=false if no
// / block large enough is free.
func (p *Pool) Alloc(order uint) (mem.Pa_t, bool) {
	reqOrder := util.Max(order, p.MinOrder)
	if reqOrder > p.TotalOrder {
		return 0, false
	}
	var found uint
	ok := false
	for k := reqOrder; k <= p.TotalOrder; k++ {
		if len(p.free[p.levelIndex(k)]) > 0 {
			found = k
			ok = true
			break
		}
	}
	if !ok {
		return 0, false
	}
	addr, _ := p.pop(found)
	for o := found; o > reqOrder; o-- {
		half := uintptr(1) << (o - 1)
		high := addr + half
		p.push(o-1, high)
		p.state[high] = blockState{order: o - 1, status: statusFree}
	}
	p.state[addr] = blockState{order: reqOrder, status: statusAllocated}
	telemetry.Log.Debug().Uint("order", reqOrder).Uint64("pool_relative", uint64(addr)).Msg("buddy: allocated block")
	return p.Base + mem.Pa_t(addr), true
}

// / Free marks the block at address (tracked at order) free, then
// / recursively coalesces with its buddy while the buddy is free and
// / tracked at the same order. The coalesced block's address is
// / min(self, buddy) (spec §4.1).
func (p *Pool) Free(address mem.Pa_t, order uint) error {
	if !p.Contains(address) {
		return fmt.Errorf("buddy: address %#x outside pool [%#x, %#x)", address, p.Base, p.Base+mem.Pa_t(1<<p.TotalOrder))
	}
	reqOrder := util.Max(order, p.MinOrder)
	addr := uintptr(address - p.Base)
	if st, ok := p.state[addr]; !ok || st.status != statusAllocated || st.order != reqOrder {
		return fmt.Errorf("buddy: address %#x not allocated at order %d", address, reqOrder)
	}
	delete(p.state, addr)

	cur := reqOrder
	for cur < p.TotalOrder {
		buddy := addr ^ (uintptr(1) << cur)
		st, ok := p.state[buddy]
		if !ok || st.status != statusFree || st.order != cur {
			break
		}
		if !p.remove(cur, buddy) {
			break
		}
		delete(p.state, buddy)
		if buddy < addr {
			addr = buddy
		}
		cur++
	}
	p.push(cur, addr)
	p.state[addr] = blockState{order: cur, status: statusFree}
	telemetry.Log.Debug().Uint("order", cur).Uint64("pool_relative", uint64(addr)).Msg("buddy: freed block")
	return nil
}

// / FreeBytes sums the size of every currently free block, for
// / DUMP_STATE and tests.
func (p *Pool) FreeBytes() uint64 {
	var total uint64
	for i, l := range p.free {
		order := p.MinOrder + uint(i)
		total += uint64(len(l)) << order
	}
	return total
}

// / IsMaximalFree reports whether the pool has coalesced back down to
// / a single free block spanning the whole pool (spec §8 "coalescence
// / completeness" law).
func (p *Pool) IsMaximalFree() bool {
	top := p.free[len(p.free)-1]
	return len(top) == 1 && top[0] == 0
}
