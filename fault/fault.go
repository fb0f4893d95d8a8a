// Package fault implements the fault handler of spec §4.5 (component
// C5): the orchestrator that ties together region validation (C4),
// page-table walking (C3), frame allocation (C1), and replacement
// (C6) into a single PAGE_FAULT operation. Grounded on
// original_source/on_demand.c's petmem_handle_pagefault and on
// vm/as.go's Sys_pgfault, whose "take the address space lock for the
// whole fault, release it on every return path" shape this mirrors
// through aspace.AddressSpace.LockFault/UnlockFault.
package fault

import (
	"petmem/aspace"
	"petmem/defs"
	"petmem/mem"
	"petmem/telemetry"
)

// Error code bit layout (spec §4.5): "bit1 = write, bit2 = user".
const errWrite = 1 << 0

// errPermission is the permission-fault sentinel of
// original_source/on_demand.c (ERROR_PERMISSION = 2): a caller that
// already knows the fault is a permission violation passes this value
// instead of the write/user bit layout, and petmem_handle_pagefault
// rejects it unconditionally before ever walking the tables
// (on_demand.c:233, checked alongside the address-range validity test).
const errPermission = 2

// Handler services page faults against one address space. It holds
// no state of its own; every field it touches lives in the
// AddressSpace (spec §5: "no cross-fault state is carried").
type Handler struct {
	as *aspace.AddressSpace
}

// / New returns a fault handler bound to as.
func New(as *aspace.AddressSpace) *Handler {
	return &Handler{as: as}
}

// / HandlePageFault services one fault at virtual address addr with
// / the given x86-style error code (spec §4.5/§6 PAGE_FAULT). Returns
// / 0 on success, a nonzero defs.Err_t on a fatal fault — address
// / invalid, permission violation, or unrecoverable exhaustion — which
// / the caller (the control surface, ultimately the test harness) must
// / treat as a segmentation fault.
func (h *Handler) HandlePageFault(addr mem.Va_t, errcode uint32) defs.Err_t {
	as := h.as
	as.LockFault()
	defer as.UnlockFault()

	if errcode == errPermission {
		telemetry.Log.Debug().Uint64("addr", uint64(addr)).Msg("fault: permission-fault sentinel")
		return defs.EFAULT
	}

	if e := as.Regions.CheckAddressRange(addr.Pagen()); e != 0 {
		telemetry.Log.Debug().Uint64("addr", uint64(addr)).Msg("fault: address outside any allocated region")
		return defs.EFAULT
	}

	leaf, e := as.Walker.WalkOrBuild(addr)
	if e != 0 {
		return e
	}

	write := errcode&errWrite != 0

	switch {
	case leaf.Present():
		if write && !leaf.Writable() {
			telemetry.Log.Debug().Uint64("addr", uint64(addr)).Msg("fault: permission violation on present page")
			return defs.EFAULT
		}
		return 0

	case leaf.IsCompulsory():
		return h.handleCompulsory(addr, leaf)

	case leaf.IsSwapped():
		return h.handleSwapped(addr, leaf)
	}
	return defs.EFAULT
}

// handleCompulsory services a never-resident page (spec §4.5
// "Compulsory"): allocate a frame, zero it, install a fresh present
// PTE, and register the page in the resident queue.
func (h *Handler) handleCompulsory(addr mem.Va_t, leaf *mem.Pte_t) defs.Err_t {
	as := h.as
	pa, e := h.allocFrame()
	if e != 0 {
		return e
	}
	as.Phys.Dmap(pa).Zero()
	*leaf = mem.MkPresent(pa, mem.PteW|mem.PteU)
	as.Engine.Enqueue(addr.Pagen())
	as.MarkCached(addr)
	telemetry.Log.Debug().Uint64("addr", uint64(addr)).Msg("fault: compulsory fault resolved")
	return 0
}

// handleSwapped services a page currently evicted to swap (spec
// §4.5 "Swapped"): read its slot back into a scratch page, allocate a
// frame, copy the scratch page in, and install a fresh present PTE
// with dirty cleared.
func (h *Handler) handleSwapped(addr mem.Va_t, leaf *mem.Pte_t) defs.Err_t {
	as := h.as
	slot, ok := as.Walker.SwapSlot(leaf, addr)
	if !ok {
		return defs.EINVAL
	}
	var scratch mem.Page
	if e := as.Swap.In(slot, &scratch); e != 0 {
		return e
	}
	pa, e := h.allocFrame()
	if e != 0 {
		return e
	}
	*as.Phys.Dmap(pa) = scratch
	*leaf = mem.MkPresent(pa, mem.PteW|mem.PteU)
	as.Engine.Enqueue(addr.Pagen())
	as.MarkCached(addr)
	telemetry.Log.Debug().Uint64("addr", uint64(addr)).Uint64("slot", slot).Msg("fault: swap-in resolved")
	return 0
}

// allocFrame allocates a single frame, triggering replacement exactly
// once on exhaustion and retrying (spec §4.5: "if exhausted, invoke
// replacement (C6), free the victim's frame, retry once").
func (h *Handler) allocFrame() (mem.Pa_t, defs.Err_t) {
	as := h.as
	pa, e := as.Alloc.Alloc(1)
	if e == 0 {
		return pa, 0
	}
	if e != defs.ENOMEM {
		return 0, e
	}
	if e := h.evictOne(); e != 0 {
		return 0, e
	}
	return as.Alloc.Alloc(1)
}

// evictOne selects a victim via the replacement engine and carries
// out the mandatory ordering of spec §5: victim selected -> victim
// PTE marked non-present -> TLB invalidated for the victim VA ->
// frame written to swap -> frame freed -> slot recorded in the victim
// PTE. TLB invalidation is sequenced strictly before the swap write so
// no stale cached translation can observe the frame being rewritten
// out from under it.
func (h *Handler) evictOne() defs.Err_t {
	as := h.as
	lookup := func(vpn uint64) *mem.Pte_t {
		pte, err := as.Walker.Walk(mem.Va_t(vpn << mem.PGSHIFT))
		if err != 0 {
			return nil
		}
		return pte
	}
	vpn, err := as.Engine.Evict(lookup)
	if err != 0 {
		telemetry.Log.Debug().Msg("fault: replacement found no victim")
		return err
	}
	victimVa := mem.Va_t(vpn << mem.PGSHIFT)
	leaf, err := as.Walker.Walk(victimVa)
	if err != 0 {
		return err
	}
	victimFrame := leaf.Addr()

	*leaf = 0
	as.Invalidate(victimVa)

	slot, err := as.Swap.Out(as.Phys.Dmap(victimFrame))
	if err != 0 {
		return err
	}
	if err := as.Alloc.Free(victimFrame, 1); err != 0 {
		return err
	}
	as.Walker.MarkSwapped(leaf, victimVa, slot)
	telemetry.Log.Debug().Uint64("vpn", vpn).Uint64("slot", slot).Msg("fault: victim evicted to swap")
	return 0
}
