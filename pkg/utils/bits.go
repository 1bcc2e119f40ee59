package utils

import (
	"golang.org/x/exp/constraints"
)

// Returns an all ones bitmask of n bits of the given unsigned integer type
func AllOnes[T constraints.Unsigned](bits int) T {
	if bits >= 64 {
		return ^T(0)
	}
	return (T(1) << bits) - T(1)
}

// Reports whether n is a power of two. Zero is not a power of two.
func IsPowerOfTwo[T constraints.Unsigned](n T) bool {
	return n != 0 && n&(n-1) == 0
}

// Rounds value up to the next multiple of align. Align must be a power of two.
func AlignTo[T constraints.Unsigned](value T, align T) T {
	if align <= 1 {
		return value
	}
	return (value + align - 1) &^ (align - 1)
}
