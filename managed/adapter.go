// Copyright 2016 Aleksandr Demakin. All rights reserved.

package managed

import (
	"math"
	"unsafe"

	"github.com/pkg/errors"
)

// Allocator places memory of containers into a region.
// It is a small value, which can be copied freely.
// Memory is identified with offsets, which are valid in every process;
// Pointer converts them into addresses of the current mapping.
type Allocator struct {
	m *Manager
}

// Manager returns the manager of the allocator.
func (a Allocator) Manager() *Manager {
	return a.m
}

// Allocate allocates n zeroed bytes.
func (a Allocator) Allocate(n int) (Offset, error) {
	if a.m == nil {
		return 0, errors.New("allocator is not bound to a region")
	}
	return a.m.Allocate(n)
}

// Deallocate frees memory allocated with Allocate(n). Deallocation of a nil offset is a no-op.
func (a Allocator) Deallocate(off Offset, n int) error {
	if off.IsNil() {
		return nil
	}
	if a.m == nil {
		return errors.New("allocator is not bound to a region")
	}
	if n < 0 {
		return errors.Errorf("invalid deallocation size %d", n)
	}
	return a.m.deallocateSized(off, uint64(n))
}

// Equal returns true, if memory allocated by one allocator can be freed by the other,
// i.e. both allocators work with the same region, possibly via different mappings.
func (a Allocator) Equal(other Allocator) bool {
	if a.m == nil || other.m == nil {
		return a.m == other.m
	}
	return a.m.id == other.m.id
}

// Pointer returns the address of the offset in the current mapping.
func (a Allocator) Pointer(off Offset) unsafe.Pointer {
	return a.m.pointer(off)
}

// OffsetOf returns the offset of an address of the current mapping.
// It panics, if the address does not belong to the region.
func (a Allocator) OffsetOf(p unsafe.Pointer) Offset {
	return a.m.offsetOf(p)
}

// New allocates a zeroed T.
func New[T any](a Allocator) (Offset, *T, error) {
	info, err := typeInfoOf[T]()
	if err != nil {
		return 0, nil, err
	}
	off, err := a.Allocate(int(info.size))
	if err != nil {
		return 0, nil, err
	}
	return off, At[T](a, off), nil
}

// MakeSlice allocates a zeroed array of n elements of type T.
func MakeSlice[T any](a Allocator, n int) (Offset, []T, error) {
	info, err := typeInfoOf[T]()
	if err != nil {
		return 0, nil, err
	}
	if n < 0 || (info.size > 0 && uint64(n) > math.MaxInt/info.size) {
		return 0, nil, errors.Errorf("invalid slice length %d", n)
	}
	off, err := a.Allocate(n * int(info.size))
	if err != nil {
		return 0, nil, err
	}
	return off, SliceAt[T](a, off, n), nil
}

// At returns a pointer to T at the given offset. It returns nil for a nil offset.
func At[T any](a Allocator, off Offset) *T {
	return (*T)(a.Pointer(off))
}

// SliceAt returns a slice of n elements of type T at the given offset.
func SliceAt[T any](a Allocator, off Offset, n int) []T {
	if off.IsNil() || n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(a.Pointer(off)), n)
}
