// Package aspace implements the address-space lifecycle of spec §4.7
// (component C7): per-client init/teardown and the TLB invalidation
// policy tying region frees and replacement evictions together.
// Grounded on original_source/on_demand.c's
// petmem_init_process/petmem_deinit_process and on biscuit's
// vm/as.go:Vm_t, whose embedded mutex plus pgfltaken flag is adapted
// here into the reentrancy guard spec §5 requires ("no reentrancy
// during a fault ... is a bug, not a contract") — the teacher carries
// this exact check commented out ("useful for finding deadlock bugs
// with one cpu"); this port turns it on, since the spec makes it a
// correctness requirement rather than a debugging aid.
package aspace

import (
	"sync"

	"petmem/buddy"
	"petmem/defs"
	"petmem/mem"
	"petmem/pagetable"
	"petmem/replace"
	"petmem/swap"
	"petmem/telemetry"
	"petmem/vmregion"
)

// AddressSpace is the tuple of spec §3/§4.7: {region list, resident
// queue, swap handle, policy selector}, plus the page-table walker
// that binds them together and the shared pool registry/physical
// backing they allocate frames from.
type AddressSpace struct {
	mu sync.Mutex

	Regions *vmregion.List
	Engine  *replace.Engine
	Walker  *pagetable.Walker
	Swap    *swap.Store

	Alloc *buddy.Registry
	Phys  *mem.Physmem
	tlb   map[uint64]bool // VPNs the simulated TLB currently caches
}

// Config bundles the parameters of Init that have no sensible
// zero value (region span, shared allocator context, swap backing).
type Config struct {
	RegionStartPage uint64
	RegionSizePages uint64
	Alloc           *buddy.Registry
	Phys            *mem.Physmem
	SwapPath        string
	Policy          replace.Policy
	SwapAddressing  pagetable.SwapAddressing
}

// / Init creates a new address space: a one-node FREE region list
// / spanning the configured range, an empty resident queue under the
// / requested policy, and an opened swap store (spec §4.7's init()).
func Init(cfg Config) (*AddressSpace, error) {
	walker, e := pagetable.NewWalker(cfg.Alloc, cfg.Phys, cfg.SwapAddressing)
	if e != 0 {
		return nil, e
	}
	store, err := swap.Init(cfg.SwapPath)
	if err != nil {
		return nil, err
	}
	as := &AddressSpace{
		Regions: vmregion.New(cfg.RegionStartPage, cfg.RegionSizePages),
		Engine:  replace.NewEngine(cfg.Policy),
		Walker:  walker,
		Swap:    store,
		Alloc:   cfg.Alloc,
		Phys:    cfg.Phys,
		tlb:     make(map[uint64]bool),
	}
	telemetry.Log.Info().
		Uint64("region_start", cfg.RegionStartPage).
		Uint64("region_pages", cfg.RegionSizePages).
		Msg("aspace: initialized")
	return as, nil
}

// / Teardown releases swap, tears down every ALLOCATED region's
// / physical backing (frames and any now-empty interior tables),
// / drops all resident-queue entries, and drops all region nodes
// / (spec §4.7's teardown()). The PML4 itself is also destroyed.
func (as *AddressSpace) Teardown() error {
	as.LockFault()
	defer as.UnlockFault()

	for _, n := range as.Regions.Nodes() {
		if n.Status != vmregion.Allocated {
			continue
		}
		for page := n.StartPage; page < n.End(); page++ {
			va := mem.Va_t(page << mem.PGSHIFT)
			as.Invalidate(va)
			as.Engine.Remove(page)
			if leaf, e := as.Walker.Walk(va); e == 0 && leaf.Present() {
				if e := as.Alloc.Free(leaf.Addr(), 1); e != 0 {
					return e
				}
			}
			if e := as.Walker.Unmap(va); e != 0 {
				return e
			}
		}
	}
	as.Regions = vmregion.New(0, 0)
	if e := as.Walker.Destroy(); e != 0 {
		return e
	}
	return as.Swap.Close()
}

// / LazyAlloc rounds sizeBytes up to pages and reserves a FREE region
// / of that size, returning its starting virtual address (spec §6
// / LAZY_ALLOC / §4.4 allocate()).
func (as *AddressSpace) LazyAlloc(sizeBytes uint64) (mem.Va_t, defs.Err_t) {
	as.LockFault()
	defer as.UnlockFault()

	pages := (sizeBytes + mem.PGSIZE - 1) / mem.PGSIZE
	if pages == 0 {
		pages = 1
	}
	start, ok := as.Regions.Allocate(pages)
	if !ok {
		return 0, defs.ENOMEM
	}
	return mem.Va_t(start << mem.PGSHIFT), 0
}

// / LazyFree tears down and releases the ALLOCATED region starting at
// / virtual address va (spec §6 LAZY_FREE / §4.4 free()).
func (as *AddressSpace) LazyFree(va mem.Va_t) defs.Err_t {
	as.LockFault()
	defer as.UnlockFault()

	startPage := va.Pagen()
	freed, ok := as.Regions.Free(startPage)
	if !ok {
		return defs.EINVAL
	}
	for page := freed.StartPage; page < freed.StartPage+freed.SizePages; page++ {
		pva := mem.Va_t(page << mem.PGSHIFT)
		as.Invalidate(pva)
		as.Engine.Remove(page)
		if leaf, e := as.Walker.Walk(pva); e == 0 && leaf.Present() {
			if e := as.Alloc.Free(leaf.Addr(), 1); e != 0 {
				return e
			}
		}
		if e := as.Walker.Unmap(pva); e != 0 {
			return e
		}
	}
	return 0
}

// / InvalidatePage flushes a single virtual page from the simulated
// / TLB (spec §6 INVALIDATE_PAGE).
func (as *AddressSpace) InvalidatePage(va mem.Va_t) {
	as.LockFault()
	defer as.UnlockFault()
	as.Invalidate(va)
}

// Invalidate drops va's page from the simulated TLB. Exported for use
// by the fault package, which must invalidate the victim's VA before
// writing it to swap (spec §5's mandatory ordering). Grounded on
// vm/as.go's Tlbshoot, simplified from a multi-CPU shootdown (no real
// hardware TLB exists here) to tracking which pages the single
// conceptual TLB still caches.
func (as *AddressSpace) Invalidate(va mem.Va_t) {
	delete(as.tlb, va.Pagen())
	telemetry.Log.Debug().Uint64("vpn", va.Pagen()).Msg("aspace: tlb invalidated")
}

// / MarkCached records that va's translation is now cached, called by
// / the fault package after installing a present PTE.
func (as *AddressSpace) MarkCached(va mem.Va_t) {
	as.tlb[va.Pagen()] = true
}

// / LockFault acquires the address space lock, panicking on
// / reentrancy instead of blocking: spec §5's "no reentrancy during a
// / fault ... is a bug, not a contract", adapted from vm/as.go's
// / commented-out double-lock check (as.pgfltaken). A plain Lock()
// / can't distinguish "legitimately reacquiring" from "nested call on
// / the same goroutine" — it would just deadlock on the latter — so
// / this guard uses TryLock: since this subsystem never has two
// / goroutines contending one address space (spec §5, single-threaded
// / cooperative scheduling), a failed TryLock can only mean a fault
// / handler (or teardown) has recursed into itself. Exported so the
// / fault package can hold it across a whole PAGE_FAULT.
func (as *AddressSpace) LockFault() {
	if !as.mu.TryLock() {
		panic("aspace: reentrant fault/teardown on the same address space")
	}
}

// / UnlockFault releases the lock acquired by LockFault.
func (as *AddressSpace) UnlockFault() {
	as.mu.Unlock()
}
