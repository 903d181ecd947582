// Copyright 2016 Aleksandr Demakin. All rights reserved.

package container

import (
	"encoding/binary"
	"unsafe"

	"github.com/nxgtw/shmheap/managed"

	"github.com/dchest/siphash"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Integer is a constraint for map keys.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

const (
	slotEmpty = iota
	slotFull
	slotDeleted
)

const (
	minMapCap = 8
)

type mapSlot[K Integer, V any] struct {
	state uint8
	key   K
	value V
}

// mapHeader is what is registered in the region.
// The table uses open addressing with linear probing.
type mapHeader[K Integer, V any] struct {
	slots managed.Offset
	cap   uint64
	len   uint64
	// full and deleted slots.
	used  uint64
	seed0 uint64
	seed1 uint64
	_     [0]mapSlot[K, V]
}

// Destruct frees map's storage.
func (h *mapHeader[K, V]) Destruct(a managed.Allocator) error {
	err := a.Deallocate(h.slots, int(h.cap)*slotSize[K, V]())
	*h = mapHeader[K, V]{}
	return err
}

func slotSize[K Integer, V any]() int {
	return int(unsafe.Sizeof(mapSlot[K, V]{}))
}

// Map is a hash map with integer keys placed into a shared memory region.
// Map is a view of the data in the region, which is valid while the manager is open.
// V must be a type, which can be placed into shared memory.
type Map[K Integer, V any] struct {
	hdr *mapHeader[K, V]
	a   managed.Allocator
}

// NewMap creates an empty map with the given name.
func NewMap[K Integer, V any](m *managed.Manager, name string) (*Map[K, V], error) {
	hdr, err := managed.Construct(m, name, func(hdr *mapHeader[K, V], _ managed.Allocator) error {
		seed, err := uuid.NewRandom()
		if err != nil {
			return errors.Wrap(err, "failed to generate map seed")
		}
		hdr.seed0 = binary.LittleEndian.Uint64(seed[:8])
		hdr.seed1 = binary.LittleEndian.Uint64(seed[8:])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Map[K, V]{hdr: hdr, a: m.Allocator()}, nil
}

// FindMap returns an existing map.
func FindMap[K Integer, V any](m *managed.Manager, name string) (*Map[K, V], error) {
	hdr, err := managed.Find[mapHeader[K, V]](m, name)
	if err != nil {
		return nil, err
	}
	return &Map[K, V]{hdr: hdr, a: m.Allocator()}, nil
}

// DestroyMap destroys the map and frees its memory.
func DestroyMap[K Integer, V any](m *managed.Manager, name string) error {
	return managed.Destroy[mapHeader[K, V]](m, name)
}

// Len returns the number of elements.
func (m *Map[K, V]) Len() int {
	return int(m.hdr.len)
}

// Get returns the value for the key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	if idx, found := m.find(key); found {
		return m.slots()[idx].value, true
	}
	var zero V
	return zero, false
}

// Put sets the value for the key.
func (m *Map[K, V]) Put(key K, value V) error {
	if (m.hdr.used+1)*4 > m.hdr.cap*3 {
		newCap := m.hdr.cap
		if newCap == 0 {
			newCap = minMapCap
		} else if (m.hdr.len+1)*2 > m.hdr.cap {
			newCap *= 2
		}
		if err := m.rehash(newCap); err != nil {
			return err
		}
	}
	idx, found := m.find(key)
	slot := &m.slots()[idx]
	if !found {
		if slot.state == slotEmpty {
			m.hdr.used++
		}
		slot.state = slotFull
		slot.key = key
		m.hdr.len++
	}
	slot.value = value
	return nil
}

// Delete removes the key. It returns false, if there was no such key.
func (m *Map[K, V]) Delete(key K) bool {
	idx, found := m.find(key)
	if !found {
		return false
	}
	slots := m.slots()
	slots[idx] = mapSlot[K, V]{state: slotDeleted}
	m.hdr.len--
	return true
}

// Range calls fn for every element until it returns false.
// The order is unspecified.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	for _, slot := range m.slots() {
		if slot.state == slotFull && !fn(slot.key, slot.value) {
			return
		}
	}
}

func (m *Map[K, V]) slots() []mapSlot[K, V] {
	return managed.SliceAt[mapSlot[K, V]](m.a, m.hdr.slots, int(m.hdr.cap))
}

func (m *Map[K, V]) hash(key K) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(key))
	return siphash.Hash(m.hdr.seed0, m.hdr.seed1, b[:])
}

// find returns the index of the key, or the index of a slot to insert it to.
// For an empty table it returns -1.
func (m *Map[K, V]) find(key K) (int, bool) {
	slots := m.slots()
	if len(slots) == 0 {
		return -1, false
	}
	mask := uint64(len(slots) - 1)
	firstDeleted := -1
	idx := m.hash(key) & mask
	for i := 0; i < len(slots); i++ {
		slot := &slots[idx]
		switch slot.state {
		case slotEmpty:
			if firstDeleted >= 0 {
				return firstDeleted, false
			}
			return int(idx), false
		case slotFull:
			if slot.key == key {
				return int(idx), true
			}
		case slotDeleted:
			if firstDeleted < 0 {
				firstDeleted = int(idx)
			}
		}
		idx = (idx + 1) & mask
	}
	return firstDeleted, false
}

func (m *Map[K, V]) rehash(newCap uint64) error {
	off, newSlots, err := managed.MakeSlice[mapSlot[K, V]](m.a, int(newCap))
	if err != nil {
		return errors.Wrap(err, "failed to allocate map storage")
	}
	mask := newCap - 1
	for _, slot := range m.slots() {
		if slot.state != slotFull {
			continue
		}
		idx := m.hash(slot.key) & mask
		for newSlots[idx].state != slotEmpty {
			idx = (idx + 1) & mask
		}
		newSlots[idx] = slot
	}
	if err := m.a.Deallocate(m.hdr.slots, int(m.hdr.cap)*slotSize[K, V]()); err != nil {
		m.a.Deallocate(off, int(newCap)*slotSize[K, V]())
		return err
	}
	m.hdr.slots = off
	m.hdr.cap = newCap
	m.hdr.used = m.hdr.len
	return nil
}
