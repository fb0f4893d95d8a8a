// Package device implements the ioctl-style control surface of spec
// §6: the single dispatch point an operator shell, a hot-plug donation
// tool, or a test harness issues commands against. Grounded on
// original_source/main.c's petmem_ioctl switch and on biscuit's
// defs/device.go minor-device-id idiom (defs.DControl/defs.DProf).
package device

import (
	"bytes"
	"fmt"
	"io"

	"github.com/google/pprof/profile"

	"petmem/aspace"
	"petmem/buddy"
	"petmem/defs"
	"petmem/fault"
	"petmem/mem"
	"petmem/pagetable"
	"petmem/replace"
	"petmem/telemetry"
)

// MemoryRange mirrors main.c's struct memory_range: the ADD_MEMORY
// payload {base address, page count} a hot-plug donation tool issues.
type MemoryRange struct {
	BaseAddr mem.Pa_t
	Pages    uint64
}

// AllocRequest mirrors main.c's struct alloc_request: LAZY_ALLOC's
// in/out payload, a requested byte size in and the resulting virtual
// address out.
type AllocRequest struct {
	Size uint64
	Addr mem.Va_t
}

// PageFaultRequest mirrors main.c's struct page_fault: PAGE_FAULT's
// payload {faulting address, x86-style error code}.
type PageFaultRequest struct {
	FaultAddr mem.Va_t
	ErrorCode uint32
}

// Config bundles the parameters needed to open a Device, analogous to
// the arguments petmem_init_process derives from the host environment
// (spec §6's implicit "one client process" assumption).
type Config struct {
	RegionStartPage uint64
	RegionSizePages uint64
	SwapPath        string
	Policy          replace.Policy
	SwapAddressing  pagetable.SwapAddressing
}

// Device is the minor control device this module exposes (defs.DControl):
// one shared buddy registry and physical backing, plus the address
// space a client opens against it. Grounded on main.c's struct mem_map
// (filp->private_data) as the per-open client state, simplified to a
// single client per spec's Non-goals ("no multi-process isolation, no
// concurrent clients").
//
// ADD_MEMORY donates into the registry independently of any client's
// address space, mirroring the source: the pool list is
// process-global, while the PML4 a process's faults walk is that
// process's own (there, the CPU's existing CR3 register; here, a
// freshly allocated simulated root). The address space is therefore
// created lazily, on the first command that needs one, rather than at
// Open — so a donation tool can issue ADD_MEMORY before any client has
// opened the device.
type Device struct {
	cfg   Config
	alloc *buddy.Registry
	phys  *mem.Physmem
	as    *aspace.AddressSpace
	fault *fault.Handler
}

// / Open binds a Device to an empty registry and the given simulated
// / physical backing. No address space exists yet.
func Open(cfg Config, phys *mem.Physmem) (*Device, error) {
	return &Device{cfg: cfg, alloc: buddy.NewRegistry(), phys: phys}, nil
}

// / Close tears down the address space, if one was ever opened
// / (petmem_release); a no-op otherwise.
func (d *Device) Close() error {
	if d.as == nil {
		return nil
	}
	return d.as.Teardown()
}

// ensureAddressSpace lazily runs petmem_init_process the first time a
// command needs the address space (any command but ADD_MEMORY).
func (d *Device) ensureAddressSpace() defs.Err_t {
	if d.as != nil {
		return 0
	}
	as, err := aspace.Init(aspace.Config{
		RegionStartPage: d.cfg.RegionStartPage,
		RegionSizePages: d.cfg.RegionSizePages,
		Alloc:           d.alloc,
		Phys:            d.phys,
		SwapPath:        d.cfg.SwapPath,
		Policy:          d.cfg.Policy,
		SwapAddressing:  d.cfg.SwapAddressing,
	})
	if err != nil {
		return defs.ENOMEM
	}
	d.as = as
	d.fault = fault.New(as)
	return 0
}

// / Ioctl dispatches one control-surface command, mirroring main.c's
// / petmem_ioctl switch. arg must be the request type documented for
// / cmd; the result (if any) is written back through arg's pointer
// / fields, matching the C source's copy_to_user step for LAZY_ALLOC.
func (d *Device) Ioctl(cmd defs.Command, arg any) defs.Err_t {
	telemetry.Log.Debug().Int("command", int(cmd)).Msg("device: ioctl")
	switch cmd {
	case defs.AddMemory:
		req, ok := arg.(*MemoryRange)
		if !ok {
			return defs.EINVAL
		}
		if err := d.alloc.Donate(req.BaseAddr, req.Pages); err != nil {
			return defs.EINVAL
		}
		return 0

	case defs.LazyAlloc:
		req, ok := arg.(*AllocRequest)
		if !ok {
			return defs.EINVAL
		}
		if e := d.ensureAddressSpace(); e != 0 {
			return e
		}
		va, e := d.as.LazyAlloc(req.Size)
		if e != 0 {
			return e
		}
		req.Addr = va
		return 0

	case defs.LazyFree:
		va, ok := arg.(mem.Va_t)
		if !ok {
			return defs.EINVAL
		}
		if e := d.ensureAddressSpace(); e != 0 {
			return e
		}
		return d.as.LazyFree(va)

	case defs.PageFault:
		req, ok := arg.(*PageFaultRequest)
		if !ok {
			return defs.EINVAL
		}
		if e := d.ensureAddressSpace(); e != 0 {
			return e
		}
		return d.fault.HandlePageFault(req.FaultAddr, req.ErrorCode)

	case defs.InvalidatePage:
		va, ok := arg.(mem.Va_t)
		if !ok {
			return defs.EINVAL
		}
		if e := d.ensureAddressSpace(); e != 0 {
			return e
		}
		d.as.InvalidatePage(va)
		return 0

	case defs.DumpState:
		w, ok := arg.(io.Writer)
		if !ok {
			return defs.EINVAL
		}
		if e := d.ensureAddressSpace(); e != 0 {
			return e
		}
		return d.dumpState(w)

	default:
		telemetry.Log.Warn().Int("command", int(cmd)).Msg("device: unhandled ioctl")
		return 0
	}
}

// dumpState writes a human-readable snapshot of pool occupancy and
// resident-queue length to w. It also encodes a pprof-format profile
// of the same two counters (the defs.DProf concern the teacher's own
// go.mod pulls in github.com/google/pprof for) and reports its encoded
// size; the profile bytes themselves are not written to w.
func (d *Device) dumpState(w io.Writer) defs.Err_t {
	pools := d.alloc.Pools()
	var totalFree uint64
	fmt.Fprintf(w, "petmem dump: %d pool(s)\n", len(pools))
	for i, p := range pools {
		fb := p.FreeBytes()
		totalFree += fb
		fmt.Fprintf(w, "  pool %d: base=%#x order=%d free=%d bytes maximal=%v\n",
			i, p.Base, p.TotalOrder, fb, p.IsMaximalFree())
	}
	fmt.Fprintf(w, "resident queue: %d page(s)\n", d.as.Engine.Len())
	fmt.Fprintf(w, "registry counters:%s\n", telemetry.Counters2String(d.alloc.Stats()))

	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "free_bytes", Unit: "bytes"},
			{Type: "resident_pages", Unit: "count"},
		},
		DefaultSampleType: "free_bytes",
		Sample: []*profile.Sample{
			{Value: []int64{int64(totalFree), int64(d.as.Engine.Len())}},
		},
	}
	var buf bytes.Buffer
	if err := prof.Write(&buf); err != nil {
		return defs.EINVAL
	}
	fmt.Fprintf(w, "pprof profile: %d bytes\n", buf.Len())
	return 0
}
