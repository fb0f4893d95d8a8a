package vmregion

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateSplitsFreeNode(t *testing.T) {
	l := New(0, 1024)
	start, ok := l.Allocate(10)
	require.True(t, ok)
	require.EqualValues(t, 0, start)

	nodes := l.Nodes()
	require.Len(t, nodes, 2)
	require.Equal(t, Allocated, nodes[0].Status)
	require.EqualValues(t, 10, nodes[0].SizePages)
	require.Equal(t, Free, nodes[1].Status)
	require.EqualValues(t, 10, nodes[1].StartPage)
	require.EqualValues(t, 1014, nodes[1].SizePages)
}

func TestAllocateExactFitDoesNotSplit(t *testing.T) {
	l := New(0, 10)
	start, ok := l.Allocate(10)
	require.True(t, ok)
	require.EqualValues(t, 0, start)
	require.Len(t, l.Nodes(), 1)
}

func TestAllocateExhaustionFails(t *testing.T) {
	l := New(0, 10)
	_, ok := l.Allocate(10)
	require.True(t, ok)
	_, ok = l.Allocate(1)
	require.False(t, ok)
}

// TestCoalesceFreeRegions is spec §8 scenario 3: a=allocate(10),
// b=allocate(10), c=allocate(10) from a 1024-page FREE region; counting
// the trailing FREE remainder, free(b) leaves four nodes; free(a)
// coalesces to three; free(c) coalesces to one FREE node spanning the
// whole range.
func TestCoalesceFreeRegions(t *testing.T) {
	l := New(0, 1024)
	a, ok := l.Allocate(10)
	require.True(t, ok)
	b, ok := l.Allocate(10)
	require.True(t, ok)
	c, ok := l.Allocate(10)
	require.True(t, ok)
	require.EqualValues(t, 0, a)
	require.EqualValues(t, 10, b)
	require.EqualValues(t, 20, c)

	_, ok = l.Free(b)
	require.True(t, ok)
	require.Len(t, l.Nodes(), 4, "a, freed-b, c, remaining tail-FREE")

	_, ok = l.Free(a)
	require.True(t, ok)
	nodes := l.Nodes()
	require.Len(t, nodes, 3, "a+freed-b coalesce")
	require.Equal(t, Free, nodes[0].Status)
	require.EqualValues(t, 20, nodes[0].SizePages)

	_, ok = l.Free(c)
	require.True(t, ok)
	nodes = l.Nodes()
	require.Len(t, nodes, 1)
	require.Equal(t, Free, nodes[0].Status)
	require.EqualValues(t, 0, nodes[0].StartPage)
	require.EqualValues(t, 1024, nodes[0].SizePages)
}

func TestNoTwoConsecutiveFreeNodes(t *testing.T) {
	l := New(0, 1024)
	a, _ := l.Allocate(10)
	_, _ = l.Allocate(10)
	l.Free(a)

	nodes := l.Nodes()
	for i := 0; i+1 < len(nodes); i++ {
		if nodes[i].Status == Free && nodes[i+1].Status == Free {
			t.Fatalf("consecutive FREE nodes at %d,%d", i, i+1)
		}
	}
}

// TestFaultBoundaries is spec §8's boundary law: the first page of an
// ALLOCATED region is valid; one page past the end is fatal.
func TestFaultBoundaries(t *testing.T) {
	l := New(0x10_0000_0000, 1)
	start, ok := l.Allocate(1)
	require.True(t, ok)

	require.Zero(t, l.CheckAddressRange(start))
	require.Equal(t, int64(-1), int64(l.CheckAddressRange(start+1)))
}
