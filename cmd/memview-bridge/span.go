package main

import "unsafe"

const maxInt = int(^uint(0) >> 1)

// span converts a pointer and length received from C into a slice. It
// fails for a nil pointer with a non-zero length and for lengths that do
// not fit in an int.
func span(ptr unsafe.Pointer, length uintptr) ([]byte, bool) {
	if length == 0 {
		return nil, true
	}
	if ptr == nil || uint64(length) > uint64(maxInt) {
		return nil, false
	}
	return unsafe.Slice((*byte)(ptr), int(length)), true
}
