package pagetable

import (
	"petmem/buddy"
	"petmem/defs"
	"petmem/mem"
)

// SwapAddressing selects how a swapped-out page's slot index is
// recorded, the compatibility flag of spec §9's PTE field overload.
type SwapAddressing int

const (
	// SideTable keeps a VPN->slot map and leaves page_base zero on a
	// swapped PTE. The default: it doesn't corrupt the physical
	// address field's meaning, so a present and a swapped PTE can be
	// told apart without relying on dirty-bit convention alone.
	SideTable SwapAddressing = iota
	// Overload stores the slot index directly in the 40-bit page_base
	// field of a non-present, dirty PTE, bit-for-bit as
	// original_source/on_demand.c does. Provided for callers that need
	// literal compatibility with that layout.
	Overload
)

// Walker owns one address space's four-level page table (PML4 -> PDP
// -> PD -> PT) and lazily builds interior tables on demand, following
// on_demand.c's handle_table_memory/GENERATE_TABLE idiom. Table pages
// are allocated from the same buddy registry as data pages, matching
// the source's "page tables come from petmem_alloc too" behavior.
type Walker struct {
	alloc *buddy.Registry
	phys  *mem.Physmem
	root  mem.Pa_t
	mode  SwapAddressing
	side  *SideTable
}

// / NewWalker allocates a fresh zeroed PML4 and returns a Walker over
// / it. alloc and phys must already be able to satisfy a one-page
// / allocation (the root table itself).
func NewWalker(alloc *buddy.Registry, phys *mem.Physmem, mode SwapAddressing) (*Walker, defs.Err_t) {
	root, e := alloc.Alloc(1)
	if e != 0 {
		return nil, e
	}
	phys.Dmap(root).Zero()
	return &Walker{alloc: alloc, phys: phys, root: root, mode: mode, side: NewSideTable(64)}, 0
}

func indices(va mem.Va_t) (l4, l3, l2, l1 int) {
	v := uint64(va)
	l4 = int((v >> 39) & 0x1ff)
	l3 = int((v >> 30) & 0x1ff)
	l2 = int((v >> 21) & 0x1ff)
	l1 = int((v >> 12) & 0x1ff)
	return
}

type chainLink struct {
	pa      mem.Pa_t
	entries *[512]mem.Pte_t
	idx     int
}

// walkChain descends the four levels, optionally building missing
// interior tables, and returns the chain of interior (PML4/PDP/PD)
// links plus a pointer to the PT-level leaf entry for va.
func (w *Walker) walkChain(va mem.Va_t, build bool) ([3]chainLink, *mem.Pte_t, defs.Err_t) {
	var chain [3]chainLink
	idxs := [3]int{}
	idxs[0], idxs[1], idxs[2], _ = indices(va)
	_, _, _, l1 := indices(va)

	curPa := w.root
	for level := 0; level < 3; level++ {
		entries := w.phys.Dmap(curPa).Entries()
		idx := idxs[level]
		e := &entries[idx]
		if !e.Present() {
			if !build {
				return chain, nil, defs.EFAULT
			}
			next, err := w.alloc.Alloc(1)
			if err != 0 {
				return chain, nil, defs.ENOMEM
			}
			w.phys.Dmap(next).Zero()
			*e = mem.MkPresent(next, mem.PteW|mem.PteU)
		}
		chain[level] = chainLink{pa: curPa, entries: entries, idx: idx}
		curPa = e.Addr()
	}

	ptEntries := w.phys.Dmap(curPa).Entries()
	return chain, &ptEntries[l1], 0
}

// / WalkOrBuild returns the PT-level leaf entry for va, building any
// / missing interior table along the way (on_demand.c's
// / handle_table_memory). The returned pointer aliases live table
// / memory; callers mutate it directly to install or clear a mapping.
func (w *Walker) WalkOrBuild(va mem.Va_t) (*mem.Pte_t, defs.Err_t) {
	_, leaf, err := w.walkChain(va, true)
	return leaf, err
}

// / Walk returns the PT-level leaf entry for va without building
// / missing tables. err is defs.EFAULT if an interior table is absent.
func (w *Walker) Walk(va mem.Va_t) (*mem.Pte_t, defs.Err_t) {
	_, leaf, err := w.walkChain(va, false)
	return leaf, err
}

func allZero(entries *[512]mem.Pte_t) bool {
	for _, e := range entries {
		if e != 0 {
			return false
		}
	}
	return true
}

// / Unmap clears the PT-level entry for va (if present or swapped) and
// / then walks back up the chain bottom-up, freeing any interior table
// / that has become entirely empty (on_demand.c's
// / attempt_free_physical_address). The PML4 itself is never freed
// / here; only Destroy frees it, at address-space teardown.
func (w *Walker) Unmap(va mem.Va_t) defs.Err_t {
	chain, leaf, err := w.walkChain(va, false)
	if err != 0 {
		return 0 // nothing mapped; unmapping is idempotent
	}
	*leaf = 0
	w.clearSideTable(va)

	// ptTablePa is the table the leaf belongs to, located via the
	// chain[2] link's target (the PD entry pointing at the PT page).
	ptTablePa := chain[2].entries[chain[2].idx].Addr()
	ptEntries := w.phys.Dmap(ptTablePa).Entries()
	if !allZero(ptEntries) {
		return 0
	}
	if e := w.alloc.Free(ptTablePa, 1); e != 0 {
		return e
	}
	chain[2].entries[chain[2].idx] = 0

	pdTablePa := chain[1].entries[chain[1].idx].Addr()
	pdEntries := w.phys.Dmap(pdTablePa).Entries()
	if !allZero(pdEntries) {
		return 0
	}
	if e := w.alloc.Free(pdTablePa, 1); e != 0 {
		return e
	}
	chain[1].entries[chain[1].idx] = 0

	pdpTablePa := chain[0].entries[chain[0].idx].Addr()
	pdpEntries := w.phys.Dmap(pdpTablePa).Entries()
	if !allZero(pdpEntries) {
		return 0
	}
	if e := w.alloc.Free(pdpTablePa, 1); e != 0 {
		return e
	}
	chain[0].entries[chain[0].idx] = 0
	return 0
}

// / Destroy frees every interior table reachable from the PML4, then
// / the PML4 itself: the whole-tree teardown of address-space
// / lifecycle (C7), as opposed to Unmap's single-mapping teardown.
func (w *Walker) Destroy() defs.Err_t {
	l4entries := w.phys.Dmap(w.root).Entries()
	for i4, e4 := range l4entries {
		if !e4.Present() {
			continue
		}
		l3pa := e4.Addr()
		l3entries := w.phys.Dmap(l3pa).Entries()
		for i3, e3 := range l3entries {
			if !e3.Present() {
				continue
			}
			l2pa := e3.Addr()
			l2entries := w.phys.Dmap(l2pa).Entries()
			for i2, e2 := range l2entries {
				if !e2.Present() {
					continue
				}
				l1pa := e2.Addr()
				l1entries := w.phys.Dmap(l1pa).Entries()
				for i1, e1 := range l1entries {
					if !e1.Present() {
						continue
					}
					if err := w.alloc.Free(e1.Addr(), 1); err != 0 {
						return err
					}
					l1entries[i1] = 0
				}
				if err := w.alloc.Free(l1pa, 1); err != 0 {
					return err
				}
				l2entries[i2] = 0
			}
			if err := w.alloc.Free(l2pa, 1); err != 0 {
				return err
			}
			l3entries[i3] = 0
		}
		if err := w.alloc.Free(l3pa, 1); err != 0 {
			return err
		}
		l4entries[i4] = 0
	}
	return w.alloc.Free(w.root, 1)
}

// / MarkSwapped records that va is currently paged out to slot,
// / writing either into the PTE's overloaded page_base field or into
// / the side table, per w.mode.
func (w *Walker) MarkSwapped(leaf *mem.Pte_t, va mem.Va_t, slot uint64) {
	switch w.mode {
	case Overload:
		*leaf = mem.MkSwapped(slot)
	default:
		*leaf = mem.MkSwapped(0)
		w.side.Set(va.Pagen(), slot)
	}
}

// / SwapSlot returns the slot recorded for a swapped-out va.
func (w *Walker) SwapSlot(leaf *mem.Pte_t, va mem.Va_t) (uint64, bool) {
	switch w.mode {
	case Overload:
		return leaf.PageBase(), true
	default:
		return w.side.Get(va.Pagen())
	}
}

func (w *Walker) clearSideTable(va mem.Va_t) {
	if w.mode != Overload {
		w.side.Del(va.Pagen())
	}
}

// / Root returns the PML4 physical address, for DUMP_STATE.
func (w *Walker) Root() mem.Pa_t { return w.root }
