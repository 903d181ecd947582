// Copyright 2016 Aleksandr Demakin. All rights reserved.

package managed

import (
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/nxgtw/shmheap/shm"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func testRegionName(t *testing.T) string {
	return fmt.Sprintf("shmheap-%d-%s", os.Getpid(), strings.ReplaceAll(t.Name(), "/", "-"))
}

func createTestManager(t *testing.T, capacity int, opts ...Option) *Manager {
	name := testRegionName(t)
	Remove(name)
	m, err := Create(name, capacity, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		m.Close()
		Remove(name)
	})
	return m
}

func openTestManager(t *testing.T, name string, opts ...Option) *Manager {
	m, err := Open(name, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		m.Close()
	})
	return m
}

func TestCreateOpenRemove(t *testing.T) {
	a := assert.New(t)
	name := testRegionName(t)
	Remove(name)
	m, err := Create(name, 65536)
	require.NoError(t, err)
	defer m.Close()
	a.Equal(name, m.Name())
	a.Equal(65536, m.Capacity())

	_, err = Create(name, 65536)
	a.True(errors.Is(err, ErrAlreadyExists))

	m2, err := Open(name)
	require.NoError(t, err)
	a.Equal(m.ID(), m2.ID())
	a.NoError(m2.Close())
	a.NoError(m2.Close())

	a.NoError(Remove(name))
	a.True(errors.Is(Remove(name), ErrNotFound))
	_, err = Open(name)
	a.True(errors.Is(err, ErrNotFound))

	// the mapping of the removed region still works.
	off, err := m.Allocate(128)
	a.NoError(err)
	a.NoError(m.Deallocate(off))
}

func TestCreateInvalidCapacity(t *testing.T) {
	name := testRegionName(t)
	Remove(name)
	_, err := Create(name, MinCapacity-1)
	assert.Error(t, err)
	_, err = Open(name)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCreateMinCapacity(t *testing.T) {
	a := assert.New(t)
	m := createTestManager(t, MinCapacity)
	off, err := m.Allocate(1)
	a.NoError(err)
	_, err = m.Allocate(1)
	a.True(errors.Is(err, ErrOutOfSpace))
	a.NoError(m.Deallocate(off))
	a.NoError(m.Check())
}

func TestRegionIsZeroed(t *testing.T) {
	a := assert.New(t)
	name := testRegionName(t)
	RemoveRegion(name)
	r, err := CreateRegion(name, 4096, 0666)
	require.NoError(t, err)
	defer RemoveRegion(name)
	defer r.Close()
	a.Equal(4096, r.Size())
	for _, b := range r.Data() {
		if b != 0 {
			a.Fail("region is not zeroed")
			break
		}
	}
	_, err = CreateRegion(name, 4096, 0666)
	a.True(errors.Is(err, ErrAlreadyExists))
	a.NoError(r.Flush())
}

func TestOpenUninitialized(t *testing.T) {
	a := assert.New(t)
	name := testRegionName(t)
	shm.DestroyMemoryObject(name)
	obj, err := shm.NewMemoryObject(name, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0666)
	require.NoError(t, err)
	defer obj.Destroy()

	start := time.Now()
	_, err = Open(name, WithOpenTimeout(50*time.Millisecond))
	a.True(errors.Is(err, ErrCorrupted))
	a.True(time.Since(start) >= 50*time.Millisecond)

	require.NoError(t, obj.Truncate(4096))
	_, err = Open(name, WithOpenTimeout(0))
	a.True(errors.Is(err, ErrCorrupted))
}

func TestOpenWaitsForInitialization(t *testing.T) {
	a := assert.New(t)
	name := testRegionName(t)
	Remove(name)
	r, err := CreateRegion(name, 65536, 0666)
	require.NoError(t, err)
	defer Remove(name)
	go func() {
		time.Sleep(20 * time.Millisecond)
		m, err := initManager(r, defaultOptions())
		if err == nil {
			m.Close()
		}
	}()
	m, err := Open(name, WithOpenTimeout(5*time.Second))
	if a.NoError(err) {
		a.NoError(m.Check())
		m.Close()
	}
}

func TestOpenOrCreate(t *testing.T) {
	a := assert.New(t)
	name := testRegionName(t)
	Remove(name)
	defer Remove(name)
	m1, created, err := OpenOrCreate(name, 65536)
	require.NoError(t, err)
	defer m1.Close()
	a.True(created)
	m2, created, err := OpenOrCreate(name, 4096)
	require.NoError(t, err)
	defer m2.Close()
	a.False(created)
	a.Equal(65536, m2.Capacity())
	a.Equal(m1.ID(), m2.ID())
}

func TestOpenOrCreateConcurrent(t *testing.T) {
	const workers = 8
	name := testRegionName(t)
	Remove(name)
	defer Remove(name)
	managers := make([]*Manager, workers)
	createdFlags := make([]bool, workers)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			m, created, err := OpenOrCreate(name, 65536)
			managers[i], createdFlags[i] = m, created
			return err
		})
	}
	require.NoError(t, g.Wait())
	var created int
	for i, m := range managers {
		if createdFlags[i] {
			created++
		}
		assert.Equal(t, managers[0].ID(), m.ID())
		m.Close()
	}
	assert.Equal(t, 1, created)
}

func TestAllocationsDoNotOverlap(t *testing.T) {
	a := assert.New(t)
	m := createTestManager(t, 1<<20)
	rnd := rand.New(rand.NewSource(1))
	type alloc struct {
		off  Offset
		size int
	}
	var allocs []alloc
	for i := 0; i < 500; i++ {
		size := rnd.Intn(1000) + 1
		off, err := m.Allocate(size)
		if errors.Is(err, ErrOutOfSpace) {
			break
		}
		require.NoError(t, err)
		data := SliceAt[byte](m.Allocator(), off, size)
		for j := range data {
			a.Equal(byte(0), data[j])
			data[j] = byte(i)
		}
		allocs = append(allocs, alloc{off: off, size: size})
		if rnd.Intn(3) == 0 {
			idx := rnd.Intn(len(allocs))
			a.NoError(m.Deallocate(allocs[idx].off))
			allocs = append(allocs[:idx], allocs[idx+1:]...)
		}
	}
	sort.Slice(allocs, func(i, j int) bool { return allocs[i].off < allocs[j].off })
	for i := 1; i < len(allocs); i++ {
		a.True(uint64(allocs[i-1].off)+uint64(allocs[i-1].size) <= uint64(allocs[i].off), "allocations overlap")
	}
	a.NoError(m.Check())
	for _, al := range allocs {
		a.NoError(m.Deallocate(al.off))
	}
	st, err := m.Stats()
	a.NoError(err)
	a.Equal(uint64(0), st.UsedBytes)
	a.Equal(uint64(1), st.FreeBlocks)
	a.Equal(st.HeapSize, st.LargestFreeBlock)
	a.NoError(m.Check())
}

func TestDeallocatedSpaceIsReused(t *testing.T) {
	a := assert.New(t)
	m := createTestManager(t, 65536)
	first, err := m.Allocate(100)
	require.NoError(t, err)
	barrier, err := m.Allocate(16)
	require.NoError(t, err)
	a.NoError(m.Deallocate(first))
	second, err := m.Allocate(100)
	a.NoError(err)
	a.Equal(first, second)
	a.NoError(m.Deallocate(second))
	third, err := m.Allocate(50)
	a.NoError(err)
	a.Equal(first, third)
	a.NoError(m.Deallocate(third))
	a.NoError(m.Deallocate(barrier))
	a.NoError(m.Check())
}

func TestDeallocateInvalidOffset(t *testing.T) {
	a := assert.New(t)
	m := createTestManager(t, 65536)
	off, err := m.Allocate(64)
	require.NoError(t, err)
	for _, bad := range []Offset{0, 1, off + 1, off + 16, Offset(m.Capacity()), Offset(m.Capacity() + 4096)} {
		a.True(errors.Is(m.Deallocate(bad), ErrInvalidOffset), "offset %v", bad)
	}
	a.NoError(m.Deallocate(off))
	a.True(errors.Is(m.Deallocate(off), ErrInvalidOffset))
	a.NoError(m.Check())
}

func TestUsableSize(t *testing.T) {
	a := assert.New(t)
	m := createTestManager(t, 65536)
	off, err := m.Allocate(100)
	require.NoError(t, err)
	size, err := m.UsableSize(off)
	a.NoError(err)
	a.True(size >= 100)
	_, err = m.UsableSize(off + 8)
	a.True(errors.Is(err, ErrInvalidOffset))
}

func TestOutOfSpace(t *testing.T) {
	a := assert.New(t)
	m := createTestManager(t, 65536)
	off, err := m.Allocate(1000)
	require.NoError(t, err)
	before, err := m.Stats()
	require.NoError(t, err)
	_, err = m.Allocate(65536)
	a.True(errors.Is(err, ErrOutOfSpace))
	_, err = m.Allocate(int(before.LargestFreeBlock))
	a.True(errors.Is(err, ErrOutOfSpace))
	after, err := m.Stats()
	require.NoError(t, err)
	a.Equal(before.FreeBytes, after.FreeBytes)
	a.Equal(before.FreeBlocks, after.FreeBlocks)
	a.Equal(before.LargestFreeBlock, after.LargestFreeBlock)
	a.Equal(before.AllocationErrors+2, after.AllocationErrors)
	a.NoError(m.Check())
	a.NoError(m.Deallocate(off))
	_, err = m.Allocate(-1)
	a.Error(err)
}

func TestFillAndDrain(t *testing.T) {
	a := assert.New(t)
	m := createTestManager(t, 65536)
	var offsets []Offset
	for {
		off, err := m.Allocate(24)
		if err != nil {
			a.True(errors.Is(err, ErrOutOfSpace))
			break
		}
		offsets = append(offsets, off)
	}
	a.NotEmpty(offsets)
	a.NoError(m.Check())
	rand.New(rand.NewSource(2)).Shuffle(len(offsets), func(i, j int) {
		offsets[i], offsets[j] = offsets[j], offsets[i]
	})
	for _, off := range offsets {
		a.NoError(m.Deallocate(off))
	}
	st, err := m.Stats()
	a.NoError(err)
	a.Equal(uint64(1), st.FreeBlocks)
	a.Equal(uint64(0), st.UsedBlocks)
	a.Equal(uint64(len(offsets)), st.Allocations)
	a.Equal(uint64(len(offsets)), st.Deallocations)
	a.NoError(m.Check())
}

func TestCoalescing(t *testing.T) {
	a := assert.New(t)
	m := createTestManager(t, 65536)
	var offs [4]Offset
	for i := range offs {
		off, err := m.Allocate(256)
		require.NoError(t, err)
		offs[i] = off
	}
	a.NoError(m.Deallocate(offs[1]))
	a.NoError(m.Deallocate(offs[0]))
	st, err := m.Stats()
	a.NoError(err)
	// [0, 1] merged and the tail of the heap.
	a.Equal(uint64(2), st.FreeBlocks)
	a.NoError(m.Deallocate(offs[2]))
	st, err = m.Stats()
	a.NoError(err)
	a.Equal(uint64(2), st.FreeBlocks)
	big, err := m.Allocate(3 * 256)
	a.NoError(err)
	a.Equal(offs[0], big)
	a.NoError(m.Deallocate(big))
	a.NoError(m.Deallocate(offs[3]))
	st, err = m.Stats()
	a.NoError(err)
	a.Equal(uint64(1), st.FreeBlocks)
	a.NoError(m.Check())
}

func TestCoalesceAllPass(t *testing.T) {
	a := assert.New(t)
	m := createTestManager(t, 65536)
	first, err := m.Allocate(256)
	require.NoError(t, err)
	second, err := m.Allocate(256)
	require.NoError(t, err)
	a.NoError(m.lock())
	// free both blocks without merging them, as if they were freed by an older version.
	for _, off := range []Offset{first, second} {
		b := off - Offset(blockHeaderSize)
		hdr := m.heap.header(b)
		m.sb.usedBytes -= hdr.size
		m.sb.usedBlocks--
		hdr.magic = blockFreeMagic
		hdr.userSize = 0
		m.heap.pushFree(b)
	}
	a.True(errors.Is(m.heap.check(), ErrCorrupted))
	a.Equal(2, m.heap.coalesceAll())
	a.NoError(m.heap.check())
	m.unlock()
	a.NoError(m.Check())
}

func TestCheckDetectsCorruption(t *testing.T) {
	a := assert.New(t)
	m := createTestManager(t, 65536)
	off, err := m.Allocate(100)
	require.NoError(t, err)
	hdr := m.heap.header(off - Offset(blockHeaderSize))
	hdr.magic = 0xdead
	a.True(errors.Is(m.Check(), ErrCorrupted))
	hdr.magic = blockUsedMagic
	a.NoError(m.Check())
	hdr.prevSize = 16
	a.True(errors.Is(m.Check(), ErrCorrupted))
	hdr.prevSize = 0
	m.sb.usedBytes++
	a.True(errors.Is(m.Check(), ErrCorrupted))
	m.sb.usedBytes--
	a.NoError(m.Check())
}

func TestConcurrentAllocations(t *testing.T) {
	const (
		workers    = 8
		iterations = 500
	)
	m := createTestManager(t, 1<<20)
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			rnd := rand.New(rand.NewSource(int64(w)))
			var offs []Offset
			for i := 0; i < iterations; i++ {
				off, err := m.Allocate(rnd.Intn(200) + 1)
				if err != nil {
					return err
				}
				*At[uint64](m.Allocator(), off) = uint64(w)
				offs = append(offs, off)
				if len(offs) > 10 {
					if *At[uint64](m.Allocator(), offs[0]) != uint64(w) {
						return errors.New("allocation was overwritten")
					}
					if err := m.Deallocate(offs[0]); err != nil {
						return err
					}
					offs = offs[1:]
				}
			}
			for _, off := range offs {
				if err := m.Deallocate(off); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	st, err := m.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), st.UsedBlocks)
	assert.NoError(t, m.Check())
}

func TestLockTimeout(t *testing.T) {
	a := assert.New(t)
	m := createTestManager(t, 65536, WithLockTimeout(20*time.Millisecond))
	other := openTestManager(t, m.Name(), WithLockTimeout(20*time.Millisecond))
	m.mu.Lock()
	_, err := other.Allocate(16)
	a.True(errors.Is(err, ErrLockTimeout))
	_, err = other.Lookup("x")
	a.True(errors.Is(err, ErrLockTimeout))
	m.mu.Unlock()
	off, err := other.Allocate(16)
	a.NoError(err)
	a.NoError(m.Deallocate(off))
}

func TestClosedManager(t *testing.T) {
	a := assert.New(t)
	m := createTestManager(t, 65536)
	a.NoError(m.Close())
	_, err := m.Allocate(16)
	a.True(errors.Is(err, ErrClosed))
	a.True(errors.Is(m.Flush(), ErrClosed))
	_, err = m.Stats()
	a.True(errors.Is(err, ErrClosed))
}
