// Copyright 2016 Aleksandr Demakin. All rights reserved.

package managed

import (
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	"os"
	"sort"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/nxgtw/shmheap/internal/common"
	"github.com/nxgtw/shmheap/internal/helper"
	shmsync "github.com/nxgtw/shmheap/sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	openPollInterval    = 5 * time.Millisecond
	openOrCreateRetries = 16
)

var (
	errNotPublished = errors.New("region is not initialized")
)

// MinCapacity is the smallest capacity of a managed region.
var MinCapacity = int(alignUp(superblockSize, blockAlign) + minBlockSize)

// Manager is a handle of a managed shared memory region.
// It allocates and frees memory in the region and keeps
// a directory of named objects. All the state is stored in the region,
// so any number of managers in any number of processes may work with the same region.
// Manager is safe for concurrent use.
type Manager struct {
	region *Region
	sb     *superblock
	heap   heap
	dir    directory
	mu     *shmsync.InplaceMutex
	id     uuid.UUID
	opts   options
	logger *slog.Logger
	closed atomic.Bool
}

// Stats describes the state of a region.
type Stats struct {
	Capacity         uint64
	HeapSize         uint64
	UsedBytes        uint64
	FreeBytes        uint64
	UsedBlocks       uint64
	FreeBlocks       uint64
	LargestFreeBlock uint64
	Objects          uint64
	Allocations      uint64
	Deallocations    uint64
	AllocationErrors uint64
}

// Create creates a new region with the given name and capacity and initializes it.
// ErrAlreadyExists is returned, if the name is taken.
func Create(name string, capacity int, opts ...Option) (*Manager, error) {
	o := applyOptions(opts)
	if capacity < MinCapacity {
		return nil, errors.Errorf("region capacity %d is less than the minimum of %d", capacity, MinCapacity)
	}
	region, err := CreateRegion(name, capacity, o.perm)
	if err != nil {
		return nil, err
	}
	m, err := initManager(region, o)
	if err != nil {
		region.Close()
		RemoveRegion(name)
		return nil, err
	}
	m.logger.Info("region created", "capacity", capacity, "id", m.id.String())
	return m, nil
}

// Open opens an existing region. If the region has just been created by another process,
// Open waits for it to be initialized not longer, than the open timeout.
// ErrNotFound is returned, if there is no region with the given name.
func Open(name string, opts ...Option) (*Manager, error) {
	o := applyOptions(opts)
	var region *Region
	op := func() error {
		r, err := OpenRegion(name)
		if err != nil {
			if errors.Is(err, helper.ErrEmptyObject) {
				return errNotPublished
			}
			return backoff.Permanent(err)
		}
		if uint64(r.Size()) < superblockSize || !(*superblock)(r.base()).published() {
			r.Close()
			return errNotPublished
		}
		region = r
		return nil
	}
	retries := uint64(0)
	if o.openTimeout > 0 {
		retries = uint64(o.openTimeout / openPollInterval)
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(openPollInterval), retries)
	if err := backoff.Retry(op, b); err != nil {
		if errors.Is(err, errNotPublished) {
			return nil, errors.Wrapf(ErrCorrupted, "region %q was not initialized in %v", name, o.openTimeout)
		}
		return nil, err
	}
	m, err := attachManager(region, o)
	if err != nil {
		region.Close()
		return nil, err
	}
	m.logger.Debug("region opened", "capacity", region.Size(), "id", m.id.String())
	return m, nil
}

// OpenOrCreate opens a region, or creates it, if it does not exist.
// It returns true, if the region was created.
func OpenOrCreate(name string, capacity int, opts ...Option) (*Manager, bool, error) {
	var m *Manager
	creator := func(create bool) error {
		var err error
		if create {
			if m, err = Create(name, capacity, opts...); errors.Is(err, ErrAlreadyExists) {
				return os.ErrExist
			}
		} else if m, err = Open(name, opts...); errors.Is(err, ErrNotFound) {
			return os.ErrNotExist
		}
		return err
	}
	b := backoff.WithMaxRetries(&backoff.ZeroBackOff{}, openOrCreateRetries)
	created, err := common.OpenOrCreate(creator, b)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return nil, false, errors.Wrapf(ErrNotFound, "region %q disappeared during opening", name)
		}
		return nil, false, err
	}
	return m, created, nil
}

// Remove removes the region with the given name.
// Managers, which have the region opened, keep working with it.
func Remove(name string) error {
	return RemoveRegion(name)
}

func initManager(region *Region, o options) (*Manager, error) {
	sb := (*superblock)(region.base())
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate region id")
	}
	var keys [16]byte
	if _, err := rand.Read(keys[:]); err != nil {
		return nil, errors.Wrap(err, "failed to generate hash keys")
	}
	sb.version = superblockVersion
	sb.capacity = uint64(region.Size())
	sb.id = [16]byte(id)
	sb.hashKey0 = binary.LittleEndian.Uint64(keys[:8])
	sb.hashKey1 = binary.LittleEndian.Uint64(keys[8:])
	m := newManager(region, sb, o)
	m.mu.Init()
	m.heap.init(alignUp(superblockSize, blockAlign), sb.capacity&^(blockAlign-1))
	sb.publish()
	return m, nil
}

func attachManager(region *Region, o options) (*Manager, error) {
	sb := (*superblock)(region.base())
	if sb.version != superblockVersion {
		return nil, errors.Wrapf(ErrCorrupted, "unsupported region version %d", sb.version)
	}
	if sb.capacity != uint64(region.Size()) {
		return nil, errors.Wrapf(ErrCorrupted, "region capacity is %d, but its size is %d", sb.capacity, region.Size())
	}
	if sb.heapStart < superblockSize || sb.heapStart > sb.heapEnd || sb.heapEnd > sb.capacity {
		return nil, errors.Wrapf(ErrCorrupted, "invalid heap bounds [%d, %d)", sb.heapStart, sb.heapEnd)
	}
	return newManager(region, sb, o), nil
}

func newManager(region *Region, sb *superblock, o options) *Manager {
	m := &Manager{
		region: region,
		sb:     sb,
		heap:   heap{base: region.base(), sb: sb},
		mu:     shmsync.NewInplaceMutex(sb.lockPtr()),
		id:     uuid.UUID(sb.id),
		opts:   o,
		logger: o.logger.With("region", region.Name()),
	}
	m.dir = directory{h: &m.heap}
	return m
}

func (m *Manager) lock() error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.opts.lockTimeout < 0 {
		m.mu.Lock()
		return nil
	}
	if !m.mu.LockTimeout(m.opts.lockTimeout) {
		return errors.Wrapf(ErrLockTimeout, "region %q", m.Name())
	}
	return nil
}

func (m *Manager) unlock() {
	m.mu.Unlock()
}

// pointer returns the address of the offset in the mapping of this manager.
func (m *Manager) pointer(off Offset) unsafe.Pointer {
	if off.IsNil() {
		return nil
	}
	if uint64(off) >= m.sb.capacity {
		panic(errors.Errorf("offset %v is out of region %q", off, m.Name()))
	}
	return m.heap.ptr(off)
}

// offsetOf returns the offset of an address inside the mapping of this manager.
func (m *Manager) offsetOf(p unsafe.Pointer) Offset {
	if p == nil {
		return 0
	}
	base := uintptr(m.heap.base)
	if uintptr(p) < base || uintptr(p) >= base+uintptr(m.sb.capacity) {
		panic(errors.Errorf("address %p is out of region %q", p, m.Name()))
	}
	return Offset(uintptr(p) - base)
}

// Name returns the name of the region.
func (m *Manager) Name() string {
	return m.region.Name()
}

// Capacity returns region's size in bytes.
func (m *Manager) Capacity() int {
	return int(m.sb.capacity)
}

// ID returns the unique id of the region, generated at its creation.
// All managers of the same region have the same id.
func (m *Manager) ID() uuid.UUID {
	return m.id
}

// Allocator returns an allocator, which places objects into this region.
func (m *Manager) Allocator() Allocator {
	return Allocator{m: m}
}

// Allocate allocates n zeroed bytes in the region.
func (m *Manager) Allocate(n int) (Offset, error) {
	if n < 0 {
		return 0, errors.Errorf("invalid allocation size %d", n)
	}
	if err := m.lock(); err != nil {
		return 0, err
	}
	off, err := m.heap.allocate(uint64(n))
	m.unlock()
	if err != nil {
		m.logger.Warn("allocation failed", "size", n, "error", err)
	}
	return off, err
}

// Deallocate frees memory returned by Allocate.
// ErrInvalidOffset is returned, if the offset is not an allocated block,
// or if it is a named object or a part of the directory. Named objects are freed with Destroy.
func (m *Manager) Deallocate(off Offset) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.unlock()
	return m.heap.deallocate(off)
}

// deallocateSized frees memory, checking that the block can hold size bytes.
func (m *Manager) deallocateSized(off Offset, size uint64) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.unlock()
	usable, err := m.heap.usableSize(off)
	if err != nil {
		return err
	}
	if size > usable {
		return errors.Wrapf(ErrInvalidOffset, "block at %v holds %d bytes, not %d", off, usable, size)
	}
	return m.heap.deallocate(off)
}

// UsableSize returns the number of bytes available in the allocation.
func (m *Manager) UsableSize(off Offset) (int, error) {
	if err := m.lock(); err != nil {
		return 0, err
	}
	defer m.unlock()
	size, err := m.heap.usableSize(off)
	return int(size), err
}

// Lookup returns the directory entry of the object with the given name.
func (m *Manager) Lookup(name string) (Entry, error) {
	if err := m.lock(); err != nil {
		return Entry{}, err
	}
	defer m.unlock()
	return m.dir.lookup(name)
}

// Entries returns all named objects of the region sorted by name.
func (m *Manager) Entries() ([]Entry, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	var result []Entry
	m.dir.each(func(e Entry) bool {
		result = append(result, e)
		return true
	})
	m.unlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result, nil
}

// Stats returns allocation statistics of the region.
func (m *Manager) Stats() (Stats, error) {
	if err := m.lock(); err != nil {
		return Stats{}, err
	}
	defer m.unlock()
	hs := m.heap.stats()
	return Stats{
		Capacity:         m.sb.capacity,
		HeapSize:         m.heap.size(),
		UsedBytes:        m.sb.usedBytes,
		FreeBytes:        hs.freeBytes,
		UsedBlocks:       m.sb.usedBlocks,
		FreeBlocks:       hs.freeBlocks,
		LargestFreeBlock: hs.largestFree,
		Objects:          m.sb.objects,
		Allocations:      m.sb.allocs,
		Deallocations:    m.sb.frees,
		AllocationErrors: m.sb.allocErrors,
	}, nil
}

// Check verifies the consistency of the allocator and the directory.
// ErrCorrupted is returned, if a problem is found.
func (m *Manager) Check() error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.unlock()
	if err := m.heap.check(); err != nil {
		m.logger.Error("region check failed", "error", err)
		return err
	}
	var objects uint64
	var dirErr error
	m.dir.each(func(e Entry) bool {
		objects++
		if _, err := m.heap.blockOf(e.Offset); err != nil {
			dirErr = errors.Wrapf(ErrCorrupted, "object %q points to %v, which is not allocated", e.Name, e.Offset)
			return false
		}
		if !m.heap.pinned(e.Offset) {
			dirErr = errors.Wrapf(ErrCorrupted, "block of object %q is not pinned", e.Name)
			return false
		}
		return true
	})
	if dirErr == nil && !m.sb.buckets.IsNil() && !m.heap.pinned(m.sb.buckets) {
		dirErr = errors.Wrapf(ErrCorrupted, "directory buckets at %v are not pinned", m.sb.buckets)
	}
	if dirErr == nil && objects != m.sb.objects {
		dirErr = errors.Wrapf(ErrCorrupted, "directory has %d entries, counter is %d", objects, m.sb.objects)
	}
	if dirErr != nil {
		m.logger.Error("region check failed", "error", dirErr)
	}
	return dirErr
}

// Flush syncs region's memory with the shared memory object.
func (m *Manager) Flush() error {
	if m.closed.Load() {
		return ErrClosed
	}
	return m.region.Flush()
}

// Region returns the mapped region of the manager.
func (m *Manager) Region() *Region {
	return m.region
}

// Close unmaps the region. The region itself and the objects in it stay alive.
// Pointers to the objects of the region become invalid.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.logger.Debug("region closed")
	return m.region.Close()
}
