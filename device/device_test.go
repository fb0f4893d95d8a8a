package device

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"petmem/defs"
	"petmem/mem"
	"petmem/pagetable"
	"petmem/replace"
)

func newFixture(t *testing.T) *Device {
	t.Helper()
	f, err := os.CreateTemp("", "petmem-swap-*")
	require.NoError(t, err)
	path := f.Name()
	require.NoError(t, f.Truncate(16*mem.PGSIZE))
	require.NoError(t, f.Close())
	t.Cleanup(func() { os.Remove(path) })

	phys := mem.NewPhysmem(0, 4<<20)
	d, err := Open(Config{
		RegionStartPage: 0x10_0000_0000 >> mem.PGSHIFT,
		RegionSizePages: 1024,
		SwapPath:        path,
		Policy:          replace.CLOCK,
		SwapAddressing:  pagetable.SideTable,
	}, phys)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestAddMemoryThenLazyAllocThenFault(t *testing.T) {
	d := newFixture(t)
	require.Zero(t, d.Ioctl(defs.AddMemory, &MemoryRange{BaseAddr: 0, Pages: 1024}))

	req := &AllocRequest{Size: mem.PGSIZE}
	require.Zero(t, d.Ioctl(defs.LazyAlloc, req))
	require.EqualValues(t, 0x10_0000_0000, req.Addr)

	require.Zero(t, d.Ioctl(defs.PageFault, &PageFaultRequest{FaultAddr: req.Addr}))
}

func TestLazyFreeAndInvalidateRoundTrip(t *testing.T) {
	d := newFixture(t)
	require.Zero(t, d.Ioctl(defs.AddMemory, &MemoryRange{BaseAddr: 0, Pages: 1024}))
	req := &AllocRequest{Size: mem.PGSIZE}
	require.Zero(t, d.Ioctl(defs.LazyAlloc, req))
	require.Zero(t, d.Ioctl(defs.PageFault, &PageFaultRequest{FaultAddr: req.Addr}))

	d.Ioctl(defs.InvalidatePage, req.Addr)
	require.Zero(t, d.Ioctl(defs.LazyFree, req.Addr))
}

func TestDumpStateWritesPoolAndQueueSummary(t *testing.T) {
	d := newFixture(t)
	require.Zero(t, d.Ioctl(defs.AddMemory, &MemoryRange{BaseAddr: 0, Pages: 1024}))
	req := &AllocRequest{Size: mem.PGSIZE}
	require.Zero(t, d.Ioctl(defs.LazyAlloc, req))
	require.Zero(t, d.Ioctl(defs.PageFault, &PageFaultRequest{FaultAddr: req.Addr}))

	var buf bytes.Buffer
	require.Zero(t, d.Ioctl(defs.DumpState, io.Writer(&buf)))
	require.Contains(t, buf.String(), "resident queue: 1 page(s)")
	require.Contains(t, buf.String(), "pprof profile:")
	require.Contains(t, buf.String(), "Allocs: ")
}

func TestIoctlWithWrongArgTypeFails(t *testing.T) {
	d := newFixture(t)
	require.Equal(t, defs.EINVAL, d.Ioctl(defs.AddMemory, "not a memory range"))
}
