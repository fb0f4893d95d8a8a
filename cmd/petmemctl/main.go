// Command petmemctl is the control-plane CLI of spec §6: a small
// operator/donation-tool front end over device.Device's ioctl-style
// surface, grounded on github.com/spf13/cobra the way the pack's
// infra-tooling repos (e.g. a hot-plug memory donation script) drive
// their own control planes. This is NOT the fault-injecting test
// harness (out of scope per §1) — it exercises the control surface
// for inspection and scripted donation, one subcommand per §6 ioctl.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"petmem/defs"
	"petmem/device"
	"petmem/mem"
	"petmem/pagetable"
	"petmem/replace"
)

var (
	swapPath    string
	regionStart uint64
	regionPages uint64
	physBytes   uint64
	policyFlag  string
	overload    bool
)

func openDevice() (*device.Device, error) {
	phys := mem.NewPhysmem(0, physBytes)
	policy := replace.CLOCK
	if policyFlag == "fifo" {
		policy = replace.FIFO
	}
	mode := pagetable.SideTable
	if overload {
		mode = pagetable.Overload
	}
	return device.Open(device.Config{
		RegionStartPage: regionStart >> mem.PGSHIFT,
		RegionSizePages: regionPages,
		SwapPath:        swapPath,
		Policy:          policy,
		SwapAddressing:  mode,
	}, phys)
}

func reportErr(e defs.Err_t) error {
	if e == 0 {
		return nil
	}
	return e
}

func main() {
	root := &cobra.Command{
		Use:   "petmemctl",
		Short: "control-plane CLI for the petmem demand-paging simulator",
	}
	root.PersistentFlags().StringVar(&swapPath, "swap", "", "path to a pre-created swap file (required)")
	root.PersistentFlags().Uint64Var(&regionStart, "region-start", 0x10_0000_0000, "virtual region start address")
	root.PersistentFlags().Uint64Var(&regionPages, "region-pages", 1024, "virtual region size, in pages")
	root.PersistentFlags().Uint64Var(&physBytes, "phys-bytes", 64<<20, "size of the simulated physical backing, in bytes")
	root.PersistentFlags().StringVar(&policyFlag, "policy", "clock", "replacement policy: clock or fifo")
	root.PersistentFlags().BoolVar(&overload, "overload-swap-addressing", false, "use the PTE page_base overload instead of the side table")
	root.MarkPersistentFlagRequired("swap")

	root.AddCommand(donateCmd(), allocCmd(), freeCmd(), faultCmd(), invalidateCmd(), dumpCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// donateCmd issues the ADD_MEMORY payload shape of main.c's struct
// memory_range: {base, page count}, the call a hot-plug donation tool
// would make. The in-process []byte-backed Physmem stands in for the
// real kernel's hot-removable memory enumeration, out of scope here.
func donateCmd() *cobra.Command {
	var base, pages uint64
	cmd := &cobra.Command{
		Use:   "donate",
		Short: "donate a contiguous physical range to the buddy registry (ADD_MEMORY)",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice()
			if err != nil {
				return err
			}
			defer d.Close()
			return reportErr(d.Ioctl(defs.AddMemory, &device.MemoryRange{BaseAddr: mem.Pa_t(base), Pages: pages}))
		},
	}
	cmd.Flags().Uint64Var(&base, "base", 0, "base physical address of the donated range")
	cmd.Flags().Uint64Var(&pages, "pages", 1024, "number of pages donated")
	return cmd
}

func allocCmd() *cobra.Command {
	var size uint64
	cmd := &cobra.Command{
		Use:   "alloc",
		Short: "reserve a lazily-backed virtual region (LAZY_ALLOC)",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice()
			if err != nil {
				return err
			}
			defer d.Close()
			req := &device.AllocRequest{Size: size}
			if e := d.Ioctl(defs.LazyAlloc, req); e != 0 {
				return e
			}
			fmt.Printf("allocated region at %#x\n", uint64(req.Addr))
			return nil
		},
	}
	cmd.Flags().Uint64Var(&size, "size", mem.PGSIZE, "requested size in bytes, rounded up to a page")
	return cmd
}

func freeCmd() *cobra.Command {
	var addr uint64
	cmd := &cobra.Command{
		Use:   "free",
		Short: "release a previously allocated region (LAZY_FREE)",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice()
			if err != nil {
				return err
			}
			defer d.Close()
			return reportErr(d.Ioctl(defs.LazyFree, mem.Va_t(addr)))
		},
	}
	cmd.Flags().Uint64Var(&addr, "addr", 0, "region start address")
	return cmd
}

func faultCmd() *cobra.Command {
	var addr uint64
	var errcode uint32
	cmd := &cobra.Command{
		Use:   "fault",
		Short: "service a page fault (PAGE_FAULT)",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice()
			if err != nil {
				return err
			}
			defer d.Close()
			return reportErr(d.Ioctl(defs.PageFault, &device.PageFaultRequest{FaultAddr: mem.Va_t(addr), ErrorCode: errcode}))
		},
	}
	cmd.Flags().Uint64Var(&addr, "addr", 0, "faulting virtual address")
	cmd.Flags().Uint32Var(&errcode, "error-code", 0, "x86-style error code: bit1=write, bit2=user; 2 alone is the permission-fault sentinel")
	return cmd
}

func invalidateCmd() *cobra.Command {
	var addr uint64
	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "flush a single page from the simulated TLB (INVALIDATE_PAGE)",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice()
			if err != nil {
				return err
			}
			defer d.Close()
			return reportErr(d.Ioctl(defs.InvalidatePage, mem.Va_t(addr)))
		},
	}
	cmd.Flags().Uint64Var(&addr, "addr", 0, "virtual address")
	return cmd
}

func dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump-state",
		Short: "print a diagnostic snapshot of pool occupancy and resident pages (DUMP_STATE)",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice()
			if err != nil {
				return err
			}
			defer d.Close()
			return reportErr(d.Ioctl(defs.DumpState, os.Stdout))
		},
	}
}
