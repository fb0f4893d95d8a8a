package buddy

import (
	"sync"

	"petmem/defs"
	"petmem/mem"
	"petmem/telemetry"
	"petmem/util"
)

// Registry is the global pool registry of spec §4.1/§5: the only
// process-wide shared state in the whole subsystem. Per §5 "in a
// multi-client implementation the registry requires a mutex; alloc
// and free hold it for the duration of a single pool operation" —
// modeled here as an explicitly-constructed value (never a package
// singleton), matching the teacher's own guidance in the Design Notes
// against global mutable state (§9: "model it as an explicitly-passed
// allocator context rather than a singleton").
type Registry struct {
	mu       sync.Mutex
	pools    []*Pool
	MinOrder uint
	stats    Stats
}

// Stats holds the registry's always-on counters, the twin of the
// teacher's stats.Vmstat_t struct of Counter_t fields rendered through
// telemetry.Counters2String (biscuit's stats.Stats2String) for
// DUMP_STATE.
type Stats struct {
	Allocs      telemetry.Counter_t
	Frees       telemetry.Counter_t
	Exhaustions telemetry.Counter_t
}

// / NewRegistry creates an empty pool registry whose allocation
// / granularity is page-sized (MinOrder = mem.PGSHIFT).
func NewRegistry() *Registry {
	return &Registry{MinOrder: mem.PGSHIFT}
}

// / Stats returns the registry's counters, for DUMP_STATE.
func (r *Registry) Stats() *Stats { return &r.stats }

// / Donate decomposes a donation {base, page_count} into maximal-
// / aligned buddy pools following the iteration of spec §4.1: while
// / page_count > 0, let k = floor(log2(page_count)); create a pool of
// / order k+min_order at base; advance base by (1<<k) pages; subtract
// / 1<<k from page_count. Each resulting pool is appended to the
// / registry in registration order.
func (r *Registry) Donate(base mem.Pa_t, pageCount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for pageCount > 0 {
		k := util.FloorLog2(pageCount)
		pool, err := Init(base, k+r.MinOrder, r.MinOrder)
		if err != nil {
			return err
		}
		r.pools = append(r.pools, pool)
		telemetry.Log.Info().
			Uint64("base", uint64(base)).
			Uint("order", k+r.MinOrder).
			Uint64("pages", uint64(1)<<k).
			Msg("buddy: registered donated pool")
		base += mem.Pa_t(uint64(1) << k * mem.PGSIZE)
		pageCount -= uint64(1) << k
	}
	return nil
}

// / Alloc implements petmem_alloc(n): compute order = ceil_log2(n) +
// / min_order, try each pool in registration order, first success
// / wins. n is a page count. Returns defs.ENOMEM if every pool is
// / exhausted (the sentinel the fault handler treats as "trigger
// / replacement").
func (r *Registry) Alloc(pages uint64) (mem.Pa_t, defs.Err_t) {
	if pages == 0 {
		pages = 1
	}
	order := util.CeilLog2(pages) + r.MinOrder

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pool := range r.pools {
		if addr, ok := pool.Alloc(order); ok {
			r.stats.Allocs.Inc()
			return addr, 0
		}
	}
	r.stats.Exhaustions.Inc()
	return 0, defs.ENOMEM
}

// / Free routes to the owning pool by address-range containment and
// / frees pages pages starting at addr.
func (r *Registry) Free(addr mem.Pa_t, pages uint64) defs.Err_t {
	if pages == 0 {
		pages = 1
	}
	order := util.CeilLog2(pages) + r.MinOrder

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pool := range r.pools {
		if pool.Contains(addr) {
			if err := pool.Free(addr, order); err != nil {
				return defs.EINVAL
			}
			r.stats.Frees.Inc()
			return 0
		}
	}
	return defs.EINVAL
}

// / Pools returns the registered pools in registration order, for
// / DUMP_STATE and tests. The returned slice must not be mutated.
func (r *Registry) Pools() []*Pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Pool, len(r.pools))
	copy(out, r.pools)
	return out
}
