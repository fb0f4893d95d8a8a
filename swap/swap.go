// Package swap implements the swap store of spec §4.2 (component C2):
// a fixed-size file of page-sized slots plus an in-memory allocation
// bitmap. The bitmap scan/set/clear algorithm and the file layout are
// grounded bit-for-bit on original_source/swap.c (swap_init,
// check_bitmap/put_value, swap_out_page, swap_in_page). Positioned
// disk I/O uses golang.org/x/sys/unix's Pread/Pwrite (an indirect
// dependency of the teacher's own go.mod, elevated to direct use here)
// instead of a shared file offset, and the backing file is opened
// through github.com/ncw/directio so writes bypass the page cache —
// the swap device the teacher's swap.c models is a dedicated raw
// backing store, not a cached regular file.
package swap

import (
	"fmt"
	"os"

	"github.com/ncw/directio"
	"golang.org/x/sys/unix"

	"petmem/defs"
	"petmem/mem"
	"petmem/telemetry"
)

// Store is a fixed-size swap file of page-sized slots with an
// in-memory allocation bitmap (spec §3 "Swap store (C2)").
type Store struct {
	file   *os.File
	nslots uint64
	bitmap []byte // 1 bit per slot, 1 = in use; ceil(N/8) bytes
}

// bitmapBytes returns ceil(n/8).
func bitmapBytes(n uint64) uint64 {
	return (n + 7) / 8
}

// / Init opens a pre-created file, reads N = file_size / PAGE_SIZE,
// / allocates a bitmap of ceil(N/8) bytes, and loads it from the
// / file's head bytes (spec §4.2, §6 — the compatibility quirk of §9:
// / the bitmap region and slot 0's payload share the same file bytes).
func Init(path string) (*Store, error) {
	f, err := directio.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("swap: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("swap: stat %s: %w", path, err)
	}
	n := uint64(fi.Size()) / mem.PGSIZE
	bb := bitmapBytes(n)
	bitmap := make([]byte, bb)
	if bb > 0 {
		buf := directio.AlignedBlock(alignUp(int(bb)))
		if _, err := unix.Pread(int(f.Fd()), buf, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("swap: read bitmap header: %w", err)
		}
		copy(bitmap, buf)
	}
	telemetry.Log.Info().Str("path", path).Uint64("slots", n).Msg("swap: store initialized")
	return &Store{file: f, nslots: n, bitmap: bitmap}, nil
}

func alignUp(n int) int {
	const block = 4096
	if n == 0 {
		return block
	}
	return ((n + block - 1) / block) * block
}

// / N returns the number of slots in the store.
func (s *Store) N() uint64 { return s.nslots }

// check reports whether slot is allocated. Mirrors swap.c's
// check_bitmap, minus the -1-for-out-of-range case (callers here
// always pre-validate the index).
func (s *Store) check(slot uint64) bool {
	byteIdx := slot >> 3
	bitIdx := slot & 7
	return s.bitmap[byteIdx]&(1<<bitIdx) != 0
}

// put sets or clears the bit for slot, mirroring swap.c's put_value.
func (s *Store) put(slot uint64, v bool) {
	byteIdx := slot >> 3
	bitIdx := slot & 7
	if v {
		s.bitmap[byteIdx] |= 1 << bitIdx
	} else {
		s.bitmap[byteIdx] &^= 1 << bitIdx
	}
}

// / Out scans the bitmap LSB-first for the first free slot, marks it
// / allocated, writes PAGE_SIZE bytes from src at that slot's file
// / offset, and returns the slot index. Returns ENOSWAP if every
// / bit is set (spec §4.2, §8 boundary behavior).
func (s *Store) Out(src *mem.Page) (uint64, defs.Err_t) {
	for slot := uint64(0); slot < s.nslots; slot++ {
		if s.check(slot) {
			continue
		}
		s.put(slot, true)
		buf := directio.AlignedBlock(mem.PGSIZE)
		copy(buf, src[:])
		if _, err := unix.Pwrite(int(s.file.Fd()), buf, int64(slot*mem.PGSIZE)); err != nil {
			s.put(slot, false)
			return 0, defs.EIO
		}
		telemetry.Log.Debug().Uint64("slot", slot).Msg("swap: paged out")
		return slot, 0
	}
	return 0, defs.ENOSWAP
}

// / In reads PAGE_SIZE bytes at slot's file offset into dst and clears
// / the bitmap bit: the slot is released on read (spec §4.2).
func (s *Store) In(slot uint64, dst *mem.Page) defs.Err_t {
	if slot >= s.nslots {
		return defs.EINVAL
	}
	buf := directio.AlignedBlock(mem.PGSIZE)
	if _, err := unix.Pread(int(s.file.Fd()), buf, int64(slot*mem.PGSIZE)); err != nil {
		return defs.EIO
	}
	copy(dst[:], buf)
	s.put(slot, false)
	telemetry.Log.Debug().Uint64("slot", slot).Msg("swap: paged in")
	return 0
}

// / Close persists the bitmap to the file's head bytes, then closes
// / the file. This is the §9/SPEC_FULL fix for the source's bitmap
// / persistence bug: the original swap_free never writes the bitmap
// / back, so a reused swap file starts from whatever garbage happens
// / to occupy its head bytes.
//
// The header block shares its file bytes with slot 0's payload (the
// §9 compatibility quirk Init's doc comment notes). A fresh zero-padded
// block written over the whole aligned region would clobber every
// payload byte past the bitmap's own length, so this reads the block
// that's actually on disk first and splices in only the bitmap bytes
// before writing it back.
func (s *Store) Close() error {
	if len(s.bitmap) > 0 {
		buf := directio.AlignedBlock(alignUp(len(s.bitmap)))
		if _, err := unix.Pread(int(s.file.Fd()), buf, 0); err != nil {
			s.file.Close()
			return fmt.Errorf("swap: read header block before persisting bitmap: %w", err)
		}
		copy(buf, s.bitmap)
		if _, err := unix.Pwrite(int(s.file.Fd()), buf, 0); err != nil {
			s.file.Close()
			return fmt.Errorf("swap: persist bitmap: %w", err)
		}
	}
	return s.file.Close()
}

// / CloseWithoutPersist closes the file without writing the bitmap
// / back, reproducing the historical behavior of the C source's
// / swap_free (see TestBitmapNotPersistedWithoutClose).
func (s *Store) CloseWithoutPersist() error {
	return s.file.Close()
}
