// Package util contains small numeric helpers shared across the
// virtual memory subsystem, in the same spirit as the teacher's own
// util package of order-agnostic generic arithmetic helpers.
package util

import "math/bits"

// Int is satisfied by all built-in integer types.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Min returns the smaller of a and b.
func Min[T Int](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max[T Int](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Rounddown aligns v down to the nearest multiple of b.
func Rounddown[T Int](v, b T) T {
	return v - (v % b)
}

// Roundup aligns v up to the nearest multiple of b.
func Roundup[T Int](v, b T) T {
	return Rounddown(v+b-1, b)
}

// FloorLog2 returns floor(log2(n)) for n >= 1, the "k" of spec §4.1's
// donation-decomposition loop (`k = floor(log2(page_count))`).
func FloorLog2(n uint64) uint {
	if n == 0 {
		panic("log2(0)")
	}
	return uint(bits.Len64(n) - 1)
}

// CeilLog2 returns ceil(log2(n)) for n >= 1, used to turn a requested
// byte/page count into a buddy allocation order.
func CeilLog2(n uint64) uint {
	if n <= 1 {
		return 0
	}
	return uint(bits.Len64(n - 1))
}
