// Copyright 2016 Aleksandr Demakin. All rights reserved.

package managed

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPoint struct {
	X, Y int64
}

type testOtherPoint struct {
	X, Y int64
}

type testNotFlat struct {
	Name string
}

// testBuffer owns an array in the region.
type testBuffer struct {
	data Offset
	size int64
}

var testBufferDestructed int

func (b *testBuffer) Destruct(a Allocator) error {
	testBufferDestructed++
	err := a.Deallocate(b.data, int(b.size))
	b.data, b.size = 0, 0
	return err
}

func TestConstructFind(t *testing.T) {
	a := assert.New(t)
	m := createTestManager(t, 65536)
	p, err := Construct(m, "point", func(p *testPoint, _ Allocator) error {
		a.Equal(testPoint{}, *p)
		p.X, p.Y = 1, 2
		return nil
	})
	require.NoError(t, err)
	a.Equal(testPoint{X: 1, Y: 2}, *p)

	found, err := Find[testPoint](m, "point")
	require.NoError(t, err)
	a.Equal(p, found)

	e, err := m.Lookup("point")
	a.NoError(err)
	a.Equal("point", e.Name)
	a.Equal(uint64(16), e.Length)
	a.Equal("github.com/nxgtw/shmheap/managed.testPoint", e.TypeName)
	a.Equal(m.Allocator().OffsetOf(unsafePointer(p)), e.Offset)

	_, err = Find[testOtherPoint](m, "point")
	a.True(errors.Is(err, ErrTypeMismatch))
	_, err = Find[int64](m, "point")
	a.True(errors.Is(err, ErrTypeMismatch))
	_, err = Find[testPoint](m, "nothing")
	a.True(errors.Is(err, ErrNotFound))
	a.NoError(m.Check())
}

func TestConstructTwice(t *testing.T) {
	a := assert.New(t)
	m := createTestManager(t, 65536)
	_, err := Construct(m, "point", func(p *testPoint, _ Allocator) error {
		p.X = 42
		return nil
	})
	require.NoError(t, err)
	before, err := m.Stats()
	require.NoError(t, err)
	_, err = Construct(m, "point", func(p *testPoint, _ Allocator) error {
		p.X = 1
		return nil
	})
	a.True(errors.Is(err, ErrNameCollision))
	p, err := Find[testPoint](m, "point")
	a.NoError(err)
	a.Equal(int64(42), p.X)
	after, err := m.Stats()
	require.NoError(t, err)
	a.Equal(before.UsedBytes, after.UsedBytes)
	a.Equal(uint64(1), after.Objects)
}

func TestConstructInvalid(t *testing.T) {
	a := assert.New(t)
	m := createTestManager(t, 65536)
	_, err := Construct[testNotFlat](m, "bad", nil)
	a.True(errors.Is(err, ErrInvalidType))
	_, err = Construct[*testPoint](m, "bad", nil)
	a.True(errors.Is(err, ErrInvalidType))
	_, err = Construct[testPoint](m, "", nil)
	a.Error(err)
	_, err = Find[[]int](m, "bad")
	a.True(errors.Is(err, ErrInvalidType))
	st, err := m.Stats()
	a.NoError(err)
	a.Equal(uint64(0), st.UsedBlocks)
}

func TestConstructFailedConstructor(t *testing.T) {
	a := assert.New(t)
	m := createTestManager(t, 65536)
	testBufferDestructed = 0
	ctorErr := errors.New("ctor failed")
	_, err := Construct(m, "buf", func(b *testBuffer, alloc Allocator) error {
		off, err := alloc.Allocate(100)
		if err != nil {
			return err
		}
		b.data, b.size = off, 100
		return ctorErr
	})
	a.True(errors.Is(err, ctorErr))
	a.Equal(1, testBufferDestructed)
	_, err = Find[testBuffer](m, "buf")
	a.True(errors.Is(err, ErrNotFound))
	st, err := m.Stats()
	a.NoError(err)
	a.Equal(uint64(0), st.UsedBlocks)
	a.NoError(m.Check())
}

func TestConstructNameTakenByConstructor(t *testing.T) {
	a := assert.New(t)
	m := createTestManager(t, 65536)
	testBufferDestructed = 0
	_, err := Construct(m, "buf", func(b *testBuffer, alloc Allocator) error {
		off, err := alloc.Allocate(64)
		if err != nil {
			return err
		}
		b.data, b.size = off, 64
		_, err = Construct[testPoint](m, "buf", nil)
		return err
	})
	a.True(errors.Is(err, ErrNameCollision))
	a.Equal(1, testBufferDestructed)
	_, err = Find[testPoint](m, "buf")
	a.NoError(err)
	a.NoError(Destroy[testPoint](m, "buf"))
	st, err := m.Stats()
	a.NoError(err)
	a.Equal(uint64(0), st.Objects)
	a.NoError(m.Check())
}

func TestConstructOutOfSpace(t *testing.T) {
	a := assert.New(t)
	m := createTestManager(t, 4096)
	_, err := Construct[[8192]byte](m, "big", nil)
	a.True(errors.Is(err, ErrOutOfSpace))
	_, err = Construct(m, "buf", func(b *testBuffer, alloc Allocator) error {
		off, err := alloc.Allocate(8192)
		b.data = off
		return err
	})
	a.True(errors.Is(err, ErrOutOfSpace))
	_, err = m.Lookup("buf")
	a.True(errors.Is(err, ErrNotFound))
	a.NoError(m.Check())
}

func TestDestroy(t *testing.T) {
	a := assert.New(t)
	m := createTestManager(t, 65536)
	testBufferDestructed = 0
	_, err := Construct(m, "buf", func(b *testBuffer, alloc Allocator) error {
		off, data, err := MakeSlice[byte](alloc, 100)
		if err != nil {
			return err
		}
		data[99] = 1
		b.data, b.size = off, 100
		return nil
	})
	require.NoError(t, err)
	a.True(errors.Is(Destroy[testPoint](m, "buf"), ErrTypeMismatch))
	_, err = Find[testBuffer](m, "buf")
	a.NoError(err)
	a.NoError(Destroy[testBuffer](m, "buf"))
	a.Equal(1, testBufferDestructed)
	_, err = Find[testBuffer](m, "buf")
	a.True(errors.Is(err, ErrNotFound))
	a.True(errors.Is(Destroy[testBuffer](m, "buf"), ErrNotFound))
	st, err := m.Stats()
	a.NoError(err)
	a.Equal(uint64(0), st.Objects)
	// the directory buckets stay allocated.
	a.Equal(uint64(1), st.UsedBlocks)
	a.NoError(m.Check())
}

func TestDirectoryGrowth(t *testing.T) {
	const count = 200
	a := assert.New(t)
	m := createTestManager(t, 1<<20)
	for i := 0; i < count; i++ {
		_, err := Construct(m, fmt.Sprintf("obj%03d", i), func(v *int64, _ Allocator) error {
			*v = int64(i)
			return nil
		})
		require.NoError(t, err)
	}
	a.True(m.sb.nbuckets > initialBuckets)
	a.True(m.sb.objects <= maxLoadFactor*m.sb.nbuckets)
	entries, err := m.Entries()
	a.NoError(err)
	if a.Len(entries, count) {
		for i, e := range entries {
			a.Equal(fmt.Sprintf("obj%03d", i), e.Name)
			a.Equal("int64", e.TypeName)
		}
	}
	for i := 0; i < count; i++ {
		v, err := Find[int64](m, fmt.Sprintf("obj%03d", i))
		if a.NoError(err) {
			a.Equal(int64(i), *v)
		}
	}
	a.NoError(m.Check())
	for i := 0; i < count; i += 2 {
		a.NoError(Destroy[int64](m, fmt.Sprintf("obj%03d", i)))
	}
	entries, err = m.Entries()
	a.NoError(err)
	a.Len(entries, count/2)
	a.NoError(m.Check())
}

func TestDirectoryInFullRegion(t *testing.T) {
	a := assert.New(t)
	m := createTestManager(t, 8192)
	var names []string
	for i := 0; ; i++ {
		name := fmt.Sprintf("object-%d", i)
		if _, err := Construct[int64](m, name, nil); err != nil {
			a.True(errors.Is(err, ErrOutOfSpace))
			break
		}
		names = append(names, name)
	}
	a.NotEmpty(names)
	a.NoError(m.Check())
	for _, name := range names {
		_, err := Find[int64](m, name)
		a.NoError(err)
	}
	for _, name := range names {
		a.NoError(Destroy[int64](m, name))
	}
	a.NoError(m.Check())
}

func TestDeallocateNamedObject(t *testing.T) {
	a := assert.New(t)
	m := createTestManager(t, 65536)
	p, err := Construct(m, "x", func(p *testPoint, _ Allocator) error {
		p.X, p.Y = 3, 4
		return nil
	})
	require.NoError(t, err)
	e, err := m.Lookup("x")
	require.NoError(t, err)

	a.True(errors.Is(m.Deallocate(e.Offset), ErrInvalidOffset))
	a.True(errors.Is(m.Allocator().Deallocate(e.Offset, int(e.Length)), ErrInvalidOffset))
	_, entry := m.dir.find("x")
	a.False(entry.IsNil())
	a.True(errors.Is(m.Deallocate(entry), ErrInvalidOffset))
	a.True(errors.Is(m.Deallocate(m.sb.buckets), ErrInvalidOffset))
	a.NoError(m.Check())

	found, err := Find[testPoint](m, "x")
	if a.NoError(err) {
		a.Equal(p, found)
		a.Equal(testPoint{X: 3, Y: 4}, *found)
	}

	hdr := m.heap.header(e.Offset - Offset(blockHeaderSize))
	hdr.flags = 0
	a.True(errors.Is(m.Check(), ErrCorrupted))
	hdr.flags = blockPinned
	a.NoError(m.Check())

	a.NoError(Destroy[testPoint](m, "x"))
	a.True(errors.Is(m.Deallocate(e.Offset), ErrInvalidOffset))
	st, err := m.Stats()
	a.NoError(err)
	a.Equal(uint64(0), st.Objects)
	a.Equal(uint64(1), st.UsedBlocks)
	a.NoError(m.Check())
}
