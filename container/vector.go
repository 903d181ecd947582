// Copyright 2016 Aleksandr Demakin. All rights reserved.

package container

import (
	"unsafe"

	"github.com/nxgtw/shmheap/managed"

	"github.com/pkg/errors"
)

const minVectorCap = 4

// vectorHeader is what is registered in the region.
type vectorHeader[T any] struct {
	data managed.Offset
	len  uint64
	cap  uint64
	_    [0]T
}

// Destruct frees vector's storage.
func (h *vectorHeader[T]) Destruct(a managed.Allocator) error {
	var zero T
	err := a.Deallocate(h.data, int(h.cap)*int(unsafe.Sizeof(zero)))
	*h = vectorHeader[T]{}
	return err
}

// Vector is a dynamic array placed into a shared memory region.
// Vector is a view of the data in the region, which is valid while the manager is open.
// T must be a type, which can be placed into shared memory.
type Vector[T any] struct {
	hdr *vectorHeader[T]
	a   managed.Allocator
}

// NewVector creates a vector with the given name and values.
func NewVector[T any](m *managed.Manager, name string, values ...T) (*Vector[T], error) {
	hdr, err := managed.Construct(m, name, func(hdr *vectorHeader[T], a managed.Allocator) error {
		v := Vector[T]{hdr: hdr, a: a}
		return v.Append(values...)
	})
	if err != nil {
		return nil, err
	}
	return &Vector[T]{hdr: hdr, a: m.Allocator()}, nil
}

// FindVector returns an existing vector.
func FindVector[T any](m *managed.Manager, name string) (*Vector[T], error) {
	hdr, err := managed.Find[vectorHeader[T]](m, name)
	if err != nil {
		return nil, err
	}
	return &Vector[T]{hdr: hdr, a: m.Allocator()}, nil
}

// DestroyVector destroys the vector and frees its memory.
func DestroyVector[T any](m *managed.Manager, name string) error {
	return managed.Destroy[vectorHeader[T]](m, name)
}

// Allocator returns the allocator of the vector.
func (v *Vector[T]) Allocator() managed.Allocator {
	return v.a
}

// Len returns the number of elements.
func (v *Vector[T]) Len() int {
	return int(v.hdr.len)
}

// Cap returns the number of elements the vector can hold without reallocation.
func (v *Vector[T]) Cap() int {
	return int(v.hdr.cap)
}

// Values returns the elements. The slice refers to the memory of the region,
// and is valid until the next reallocation.
func (v *Vector[T]) Values() []T {
	return managed.SliceAt[T](v.a, v.hdr.data, int(v.hdr.len))
}

// At returns the i-th element. It panics, if i is out of range.
func (v *Vector[T]) At(i int) T {
	return v.Values()[i]
}

// Set sets the i-th element. It panics, if i is out of range.
func (v *Vector[T]) Set(i int, value T) {
	v.Values()[i] = value
}

// PushBack adds an element to the end of the vector.
func (v *Vector[T]) PushBack(value T) error {
	return v.Append(value)
}

// Append adds elements to the end of the vector.
// values may refer to the elements of the vector itself.
func (v *Vector[T]) Append(values ...T) error {
	if len(values) == 0 {
		return nil
	}
	need := v.hdr.len + uint64(len(values))
	if need > v.hdr.cap {
		return v.realloc(growCap(v.hdr.cap, need), values...)
	}
	s := managed.SliceAt[T](v.a, v.hdr.data, int(need))
	copy(s[v.hdr.len:], values)
	v.hdr.len = need
	return nil
}

// PopBack removes the last element and returns it.
func (v *Vector[T]) PopBack() (T, bool) {
	var zero T
	if v.hdr.len == 0 {
		return zero, false
	}
	s := v.Values()
	last := s[len(s)-1]
	s[len(s)-1] = zero
	v.hdr.len--
	return last, true
}

// Reserve makes sure, that the vector can hold n elements without reallocation.
func (v *Vector[T]) Reserve(n int) error {
	if n < 0 {
		return errors.Errorf("invalid vector capacity %d", n)
	}
	if uint64(n) <= v.hdr.cap {
		return nil
	}
	return v.realloc(uint64(n))
}

// Resize changes the length of the vector. New elements are zeroed.
func (v *Vector[T]) Resize(n int) error {
	if n < 0 {
		return errors.Errorf("invalid vector length %d", n)
	}
	if err := v.Reserve(n); err != nil {
		return err
	}
	if uint64(n) > v.hdr.len {
		clear(managed.SliceAt[T](v.a, v.hdr.data, n)[v.hdr.len:])
	}
	v.hdr.len = uint64(n)
	return nil
}

// Clear removes all the elements. The storage is kept.
func (v *Vector[T]) Clear() {
	clear(v.Values())
	v.hdr.len = 0
}

// Swap exchanges the contents of two vectors of the same region without copying.
func (v *Vector[T]) Swap(other *Vector[T]) error {
	if !v.a.Equal(other.a) {
		return ErrAllocatorMismatch
	}
	v.hdr.data, other.hdr.data = other.hdr.data, v.hdr.data
	v.hdr.len, other.hdr.len = other.hdr.len, v.hdr.len
	v.hdr.cap, other.hdr.cap = other.hdr.cap, v.hdr.cap
	return nil
}

// CopyVector replaces the contents of dst with the contents of src.
// The vectors may belong to different regions.
func CopyVector[T any](dst, src *Vector[T]) error {
	if dst.a.Equal(src.a) && dst.a.OffsetOf(unsafe.Pointer(dst.hdr)) == src.a.OffsetOf(unsafe.Pointer(src.hdr)) {
		return nil
	}
	if err := dst.Resize(src.Len()); err != nil {
		return err
	}
	copy(dst.Values(), src.Values())
	return nil
}

// realloc moves the elements into new storage of newCap elements and appends tail to them.
// The old storage is freed last, as tail may point into it.
func (v *Vector[T]) realloc(newCap uint64, tail ...T) error {
	off, s, err := managed.MakeSlice[T](v.a, int(newCap))
	if err != nil {
		return errors.Wrap(err, "failed to allocate vector storage")
	}
	n := copy(s, v.Values())
	n += copy(s[n:], tail)
	var zero T
	if err := v.a.Deallocate(v.hdr.data, int(v.hdr.cap)*int(unsafe.Sizeof(zero))); err != nil {
		v.a.Deallocate(off, int(newCap)*int(unsafe.Sizeof(zero)))
		return err
	}
	v.hdr.data = off
	v.hdr.cap = newCap
	v.hdr.len = uint64(n)
	return nil
}

func growCap(current, need uint64) uint64 {
	newCap := current * 2
	if newCap < need {
		newCap = need
	}
	if newCap < minVectorCap {
		newCap = minVectorCap
	}
	return newCap
}
