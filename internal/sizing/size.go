// Package sizing provides overflow-safe size arithmetic for entry ranges.
package sizing

import (
	"errors"
	"math"
)

// ErrOverflow is returned when a size does not fit the target type.
var ErrOverflow = errors.New("size overflow")

// ToInt converts a uint64 to int, returning ErrOverflow if it doesn't fit.
func ToInt(size uint64) (int, error) {
	if size > uint64(math.MaxInt) {
		return 0, ErrOverflow
	}
	return int(size), nil
}

// End returns offset+length as a uint64. Two uint32 values cannot overflow it.
func End(offset, length uint32) uint64 {
	return uint64(offset) + uint64(length)
}

// InBounds reports whether the range [offset, offset+length) lies within a
// source of the given size. A negative size never contains a range.
func InBounds(offset, length uint32, size int64) bool {
	if size < 0 {
		return false
	}
	return End(offset, length) <= uint64(size)
}
