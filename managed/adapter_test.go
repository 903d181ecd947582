// Copyright 2016 Aleksandr Demakin. All rights reserved.

package managed

import (
	"testing"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsafePointer[T any](p *T) unsafe.Pointer {
	return unsafe.Pointer(p)
}

func TestAllocatorEqual(t *testing.T) {
	a := assert.New(t)
	m1 := createTestManager(t, 65536)
	m2 := openTestManager(t, m1.Name())
	a.True(m1.Allocator().Equal(m2.Allocator()))
	a.True(m1.Allocator().Equal(m1.Allocator()))
	a.True(Allocator{}.Equal(Allocator{}))
	a.False(Allocator{}.Equal(m1.Allocator()))

	t.Run("other", func(t *testing.T) {
		other := createTestManager(t, 65536)
		assert.False(t, m1.Allocator().Equal(other.Allocator()))
	})
}

func TestAllocatorOffsets(t *testing.T) {
	a := assert.New(t)
	m1 := createTestManager(t, 65536)
	m2 := openTestManager(t, m1.Name())
	alloc1, alloc2 := m1.Allocator(), m2.Allocator()

	off, p, err := New[testPoint](alloc1)
	require.NoError(t, err)
	p.X, p.Y = 3, 4
	a.Equal(off, alloc1.OffsetOf(unsafePointer(p)))
	p2 := At[testPoint](alloc2, off)
	a.NotEqual(unsafePointer(p), unsafePointer(p2))
	a.Equal(*p, *p2)
	a.Nil(At[testPoint](alloc1, 0))
	a.Equal(Offset(0), alloc1.OffsetOf(nil))
	a.Panics(func() {
		alloc1.OffsetOf(unsafePointer(new(int)))
	})

	soff, s, err := MakeSlice[uint32](alloc2, 10)
	require.NoError(t, err)
	for i := range s {
		s[i] = uint32(i)
	}
	a.Equal(s, SliceAt[uint32](alloc1, soff, 10))
	a.Nil(SliceAt[uint32](alloc1, soff, 0))

	a.True(errors.Is(alloc1.Deallocate(soff, 1000), ErrInvalidOffset))
	a.NoError(alloc1.Deallocate(soff, 40))
	a.NoError(alloc2.Deallocate(off, int(unsafe.Sizeof(testPoint{}))))
	a.NoError(alloc1.Deallocate(0, 0))

	_, _, err = MakeSlice[string](alloc1, 1)
	a.True(errors.Is(err, ErrInvalidType))
	_, _, err = MakeSlice[uint64](alloc1, -1)
	a.Error(err)
	_, err = Allocator{}.Allocate(10)
	a.Error(err)
	a.NoError(m1.Check())
}
