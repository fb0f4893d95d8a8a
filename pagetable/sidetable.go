// Package pagetable implements the four-level page-table walker of
// spec §4.3 (component C3), grounded on original_source/on_demand.c's
// table-walking helpers (handle_table_memory, get_valid_page_entry,
// attempt_free_physical_address) and on the Pte_t/Pa_t idiom of
// biscuit's vm/as.go.
package pagetable

import "sync"

// sideBucket is one striped lock/chain pair of a SideTable, the same
// per-bucket RWMutex shape as the teacher's hashtable.bucket_t
// (hashtable/hashtable.go), simplified from its lock-free-read,
// atomic-pointer-chain implementation to a plain locked map: this
// table is consulted once per fault, not on a hot lookup path, and a
// single address space never has more than one fault in flight (see
// the fault package's reentrancy guard).
type sideBucket struct {
	sync.RWMutex
	m map[uint64]uint64
}

// SideTable is a VPN-to-swap-slot map, the SideTable compatibility
// mode of spec §9's PTE field overload: instead of stealing bits from
// the 40-bit page_base field to record a swap slot, a swapped page's
// slot lives here, keyed by virtual page number, and page_base stays
// zero. Striped into buckets in the same spirit as the teacher's
// hashtable, rather than a single bare map, so the table's shape
// still reads as a hash table even though this simulator never
// contends it.
type SideTable struct {
	buckets []*sideBucket
}

// / NewSideTable allocates a side table with the given bucket count.
func NewSideTable(nbuckets int) *SideTable {
	if nbuckets < 1 {
		nbuckets = 1
	}
	st := &SideTable{buckets: make([]*sideBucket, nbuckets)}
	for i := range st.buckets {
		st.buckets[i] = &sideBucket{m: make(map[uint64]uint64)}
	}
	return st
}

func (st *SideTable) bucket(vpn uint64) *sideBucket {
	return st.buckets[vpn%uint64(len(st.buckets))]
}

// / Set records slot as the swap slot backing vpn.
func (st *SideTable) Set(vpn, slot uint64) {
	b := st.bucket(vpn)
	b.Lock()
	defer b.Unlock()
	b.m[vpn] = slot
}

// / Get returns the swap slot recorded for vpn, if any.
func (st *SideTable) Get(vpn uint64) (uint64, bool) {
	b := st.bucket(vpn)
	b.RLock()
	defer b.RUnlock()
	slot, ok := b.m[vpn]
	return slot, ok
}

// / Del removes any swap slot recorded for vpn.
func (st *SideTable) Del(vpn uint64) {
	b := st.bucket(vpn)
	b.Lock()
	defer b.Unlock()
	delete(b.m, vpn)
}
