package pagetable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"petmem/buddy"
	"petmem/mem"
)

func newFixture(t *testing.T, mode SwapAddressing) (*Walker, *buddy.Registry, *mem.Physmem) {
	t.Helper()
	phys := mem.NewPhysmem(0, 4<<20) // 4MiB of simulated physical memory
	reg := buddy.NewRegistry()
	require.NoError(t, reg.Donate(0, 1024)) // 1024 pages = 4MiB
	w, e := NewWalker(reg, phys, mode)
	require.Zero(t, e)
	return w, reg, phys
}

func TestWalkOrBuildThenWalkSucceeds(t *testing.T) {
	w, reg, phys := newFixture(t, SideTable)

	va := mem.Va_t(0x1000)
	leaf, e := w.WalkOrBuild(va)
	require.Zero(t, e)
	require.False(t, leaf.Present())

	frame, e := reg.Alloc(1)
	require.Zero(t, e)
	*leaf = mem.MkPresent(frame, mem.PteW|mem.PteU)

	leaf2, e := w.Walk(va)
	require.Zero(t, e)
	require.True(t, leaf2.Present())
	require.Equal(t, frame, leaf2.Addr())
	_ = phys
}

func TestWalkWithoutBuildFailsOnMissingTable(t *testing.T) {
	w, _, _ := newFixture(t, SideTable)
	_, e := w.Walk(mem.Va_t(0x2000))
	require.NotZero(t, e)
}

func TestUnmapFreesEmptyInteriorTables(t *testing.T) {
	w, reg, _ := newFixture(t, SideTable)
	va := mem.Va_t(0x3000)

	before := reg.Pools()[0].FreeBytes()

	leaf, e := w.WalkOrBuild(va)
	require.Zero(t, e)
	frame, e := reg.Alloc(1)
	require.Zero(t, e)
	*leaf = mem.MkPresent(frame, mem.PteW|mem.PteU)
	require.Zero(t, reg.Free(frame, 1))

	require.Zero(t, w.Unmap(va))

	after := reg.Pools()[0].FreeBytes()
	require.Equal(t, before, after, "every interior table allocated for va must be freed back")
}

func TestSwapAddressingOverloadRoundTrips(t *testing.T) {
	w, _, _ := newFixture(t, Overload)
	va := mem.Va_t(0x4000)

	leaf, e := w.WalkOrBuild(va)
	require.Zero(t, e)
	w.MarkSwapped(leaf, va, 42)
	require.True(t, leaf.IsSwapped())

	slot, ok := w.SwapSlot(leaf, va)
	require.True(t, ok)
	require.EqualValues(t, 42, slot)
}

func TestSwapAddressingSideTableRoundTrips(t *testing.T) {
	w, _, _ := newFixture(t, SideTable)
	va := mem.Va_t(0x5000)

	leaf, e := w.WalkOrBuild(va)
	require.Zero(t, e)
	w.MarkSwapped(leaf, va, 7)
	require.True(t, leaf.IsSwapped())
	require.EqualValues(t, 0, leaf.PageBase(), "side-table mode must not write the slot into page_base")

	slot, ok := w.SwapSlot(leaf, va)
	require.True(t, ok)
	require.EqualValues(t, 7, slot)
}

func TestDestroyFreesWholeTree(t *testing.T) {
	w, reg, _ := newFixture(t, SideTable)
	va1 := mem.Va_t(0x10000)
	va2 := mem.Va_t(0x40000000) // crosses into a different PDP entry (its own PD and PT)

	for _, va := range []mem.Va_t{va1, va2} {
		leaf, e := w.WalkOrBuild(va)
		require.Zero(t, e)
		frame, e := reg.Alloc(1)
		require.Zero(t, e)
		*leaf = mem.MkPresent(frame, mem.PteW|mem.PteU)
	}

	require.Zero(t, w.Destroy())
	require.True(t, reg.Pools()[0].IsMaximalFree())
}
