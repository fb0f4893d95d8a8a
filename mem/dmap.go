package mem

import "unsafe"

// Physmem is the simulator's backing store for every physical address
// the buddy allocator ever hands out: a single Go byte slice that
// Dmap translates addresses into pointers against, the same role the
// teacher's Dmaplen/Vdirect direct-map window plays for biscuit
// (mem/dmap.go). biscuit's direct map is a literal recursive page
// table slot mapped once at boot and dereferenced through a hardcoded
// virtual address; this simulator runs as an ordinary userspace
// process with no such mapping available, so Physmem replaces that
// hardware direct map with a plain allocated slice covering the
// donated physical range and computes offsets into it instead of
// indexing a fixed virtual window.
type Physmem struct {
	base    Pa_t
	backing []byte
}

// / NewPhysmem reserves size bytes of simulated physical memory
// / starting at base. Every Pa_t a buddy.Registry hands out from pools
// / donated within [base, base+size) must be translated through this
// / Physmem.
func NewPhysmem(base Pa_t, size uint64) *Physmem {
	return &Physmem{base: base, backing: make([]byte, size)}
}

// / Dmap translates a physical address into the backing page, panicking
// / if pa falls outside the reserved range (a programming error: every
// / Pa_t in play must come from a pool registered against this
// / Physmem's span).
func (m *Physmem) Dmap(pa Pa_t) *Page {
	if pa < m.base || uint64(pa-m.base)+PGSIZE > uint64(len(m.backing)) {
		panic("mem: physical address outside simulated range")
	}
	off := uint64(pa - m.base)
	return (*Page)(unsafe.Pointer(&m.backing[off]))
}

// / Entries reinterprets a page as a 512-entry table of page-table
// / entries (4096 / 8 = 512), the shape of one PML4/PDP/PD/PT level.
func (p *Page) Entries() *[512]Pte_t {
	return (*[512]Pte_t)(unsafe.Pointer(p))
}
