package buddy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"petmem/mem"
)

func TestAllocSplitsHighHalfFirst(t *testing.T) {
	p, err := Init(0, 15, 12) // 32KiB pool, 4KiB pages
	require.NoError(t, err)

	addr, ok := p.Alloc(12) // one page
	require.True(t, ok)
	require.EqualValues(t, 0, addr)

	// the remaining 28KiB should now be split: 16KiB, 8KiB, 4KiB free blocks
	require.EqualValues(t, (1<<15)-(1<<12), p.FreeBytes())
}

func TestAllocExhaustion(t *testing.T) {
	p, err := Init(0, 12, 12) // exactly one page
	require.NoError(t, err)

	_, ok := p.Alloc(12)
	require.True(t, ok)
	_, ok = p.Alloc(12)
	require.False(t, ok, "pool of one page must fail a second allocation")
}

func TestAllocOrderAboveTotalFails(t *testing.T) {
	p, err := Init(0, 12, 12)
	require.NoError(t, err)
	_, ok := p.Alloc(20)
	require.False(t, ok)
}

// TestCoalescenceCompleteness is spec §8's law: allocating all frames,
// then freeing all frames, returns the buddy pool to one maximal free
// block.
func TestCoalescenceCompleteness(t *testing.T) {
	p, err := Init(0, 16, 12) // 64KiB pool, 16 pages
	require.NoError(t, err)

	var addrs []mem.Pa_t
	for i := 0; i < 16; i++ {
		a, ok := p.Alloc(12)
		require.True(t, ok)
		addrs = append(addrs, a)
	}
	_, ok := p.Alloc(12)
	require.False(t, ok)

	for _, a := range addrs {
		require.NoError(t, p.Free(a, 12))
	}
	require.True(t, p.IsMaximalFree())
	require.EqualValues(t, 1<<16, p.FreeBytes())
}

func TestFreeBuddyOrderMismatchRejected(t *testing.T) {
	p, err := Init(0, 13, 12)
	require.NoError(t, err)
	a, ok := p.Alloc(12)
	require.True(t, ok)
	require.Error(t, p.Free(a, 13), "freeing at the wrong order must fail")
}

// TestDonationSplit is spec §8 scenario 2: donating {base=0x8000_0000,
// pages=7} must yield pools of page-counts 4, 2, 1 at bases
// 0x8000_0000, 0x8000_4000, 0x8000_6000.
func TestDonationSplit(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Donate(0x8000_0000, 7))

	pools := r.Pools()
	require.Len(t, pools, 3)

	wantBase := []mem.Pa_t{0x8000_0000, 0x8000_4000, 0x8000_6000}
	wantPages := []uint64{4, 2, 1}
	for i, pool := range pools {
		require.Equal(t, wantBase[i], pool.Base, "pool %d base", i)
		require.EqualValues(t, wantPages[i], uint64(1)<<(pool.TotalOrder-pool.MinOrder), "pool %d page count", i)
	}
}

func TestRegistryAllocRoutesAcrossPools(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Donate(0, 3)) // pools of 2, 1 pages

	a1, e := r.Alloc(1)
	require.Zero(t, e)
	a2, e := r.Alloc(1)
	require.Zero(t, e)
	a3, e := r.Alloc(1)
	require.Zero(t, e)
	require.NotEqual(t, a1, a2)
	require.NotEqual(t, a2, a3)

	_, e = r.Alloc(1)
	require.NotZero(t, e, "registry must report exhaustion once every pool is full")

	require.Zero(t, r.Free(a1, 1))
	a4, e := r.Alloc(1)
	require.Zero(t, e)
	require.Equal(t, a1, a4, "freed frame should be reusable")
}

func TestRegistryStatsCountAllocsFreesAndExhaustions(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Donate(0, 1))

	a, e := r.Alloc(1)
	require.Zero(t, e)
	require.EqualValues(t, 1, r.Stats().Allocs.Get())

	_, e = r.Alloc(1)
	require.NotZero(t, e)
	require.EqualValues(t, 1, r.Stats().Exhaustions.Get())

	require.Zero(t, r.Free(a, 1))
	require.EqualValues(t, 1, r.Stats().Frees.Get())
}
