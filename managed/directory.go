// Copyright 2016 Aleksandr Demakin. All rights reserved.

package managed

import (
	"unsafe"

	"github.com/dchest/siphash"
	"github.com/pkg/errors"
)

const (
	initialBuckets = 16
	maxLoadFactor  = 2
	maxNameLen     = 1<<16 - 1
)

// dirEntry is followed by nameLen bytes of the name and typeLen bytes of the type name.
type dirEntry struct {
	next    Offset
	hash    uint64
	object  Offset
	length  uint64
	typeTag uint64
	nameLen uint32
	typeLen uint32
}

const (
	dirEntrySize = uint64(unsafe.Sizeof(dirEntry{}))
)

// Entry describes a named object of a region.
type Entry struct {
	Name     string
	Offset   Offset
	Length   uint64
	TypeTag  uint64
	TypeName string
}

// directory is a chained hash table of named objects.
// The buckets array and the entries are allocated from the heap and pinned.
// All methods must be called with the region lock held.
type directory struct {
	h *heap
}

func (d *directory) sb() *superblock {
	return d.h.sb
}

func (d *directory) hash(name string) uint64 {
	return siphash.Hash(d.sb().hashKey0, d.sb().hashKey1, []byte(name))
}

func (d *directory) buckets() []Offset {
	sb := d.sb()
	if sb.buckets.IsNil() {
		return nil
	}
	return unsafe.Slice((*Offset)(d.h.ptr(sb.buckets)), sb.nbuckets)
}

func (d *directory) entry(off Offset) *dirEntry {
	return (*dirEntry)(d.h.ptr(off))
}

func (d *directory) entryBytes(off Offset, shift, length uint32) []byte {
	return unsafe.Slice((*byte)(d.h.ptr(off+Offset(dirEntrySize)+Offset(shift))), length)
}

func (d *directory) entryName(off Offset) []byte {
	e := d.entry(off)
	return d.entryBytes(off, 0, e.nameLen)
}

func (d *directory) toEntry(off Offset) Entry {
	e := d.entry(off)
	return Entry{
		Name:     string(d.entryBytes(off, 0, e.nameLen)),
		Offset:   e.object,
		Length:   e.length,
		TypeTag:  e.typeTag,
		TypeName: string(d.entryBytes(off, e.nameLen, e.typeLen)),
	}
}

func checkObjectName(name string) error {
	if len(name) == 0 || len(name) > maxNameLen {
		return errors.Errorf("invalid object name %q", name)
	}
	return nil
}

// find returns the entry with the given name and the link pointing to it.
func (d *directory) find(name string) (*Offset, Offset) {
	buckets := d.buckets()
	if len(buckets) == 0 {
		return nil, 0
	}
	hash := d.hash(name)
	link := &buckets[hash&uint64(len(buckets)-1)]
	for cur := *link; !cur.IsNil(); cur = *link {
		e := d.entry(cur)
		if e.hash == hash && string(d.entryName(cur)) == name {
			return link, cur
		}
		link = &e.next
	}
	return nil, 0
}

func (d *directory) lookup(name string) (Entry, error) {
	_, cur := d.find(name)
	if cur.IsNil() {
		return Entry{}, errors.Wrapf(ErrNotFound, "object %q", name)
	}
	return d.toEntry(cur), nil
}

func (d *directory) register(name string, object Offset, length, typeTag uint64, typeName string) error {
	if err := checkObjectName(name); err != nil {
		return err
	}
	sb := d.sb()
	if sb.buckets.IsNil() {
		off, err := d.h.allocate(initialBuckets * uint64(unsafe.Sizeof(Offset(0))))
		if err != nil {
			return errors.Wrap(err, "failed to allocate directory")
		}
		d.h.pin(off)
		sb.buckets = off
		sb.nbuckets = initialBuckets
	}
	if _, cur := d.find(name); !cur.IsNil() {
		return errors.Wrapf(ErrNameCollision, "object %q", name)
	}
	off, err := d.h.allocate(dirEntrySize + uint64(len(name)) + uint64(len(typeName)))
	if err != nil {
		return errors.Wrapf(err, "failed to allocate directory entry for %q", name)
	}
	d.h.pin(off)
	e := d.entry(off)
	*e = dirEntry{
		hash:    d.hash(name),
		object:  object,
		length:  length,
		typeTag: typeTag,
		nameLen: uint32(len(name)),
		typeLen: uint32(len(typeName)),
	}
	copy(d.entryBytes(off, 0, e.nameLen), name)
	copy(d.entryBytes(off, e.nameLen, e.typeLen), typeName)
	buckets := d.buckets()
	idx := e.hash & uint64(len(buckets)-1)
	e.next = buckets[idx]
	buckets[idx] = off
	sb.objects++
	if sb.objects > maxLoadFactor*sb.nbuckets {
		d.grow()
	}
	return nil
}

// grow doubles the number of buckets. If there is no space for a new array,
// the directory keeps working with longer chains.
func (d *directory) grow() bool {
	sb := d.sb()
	n := sb.nbuckets * 2
	off, err := d.h.tryAllocate(n * uint64(unsafe.Sizeof(Offset(0))))
	if err != nil {
		return false
	}
	d.h.pin(off)
	newBuckets := unsafe.Slice((*Offset)(d.h.ptr(off)), n)
	for _, head := range d.buckets() {
		for cur := head; !cur.IsNil(); {
			e := d.entry(cur)
			next := e.next
			idx := e.hash & (n - 1)
			e.next = newBuckets[idx]
			newBuckets[idx] = cur
			cur = next
		}
	}
	old := sb.buckets
	sb.buckets = off
	sb.nbuckets = n
	if err := d.h.release(old); err != nil {
		panic(err)
	}
	return true
}

// unregister removes the entry and frees its memory. The object itself is not freed.
func (d *directory) unregister(name string) (Entry, error) {
	link, cur := d.find(name)
	if cur.IsNil() {
		return Entry{}, errors.Wrapf(ErrNotFound, "object %q", name)
	}
	result := d.toEntry(cur)
	*link = d.entry(cur).next
	d.sb().objects--
	if err := d.h.release(cur); err != nil {
		return Entry{}, err
	}
	return result, nil
}

// each calls fn for every entry until it returns false.
func (d *directory) each(fn func(Entry) bool) {
	for _, head := range d.buckets() {
		for cur := head; !cur.IsNil(); cur = d.entry(cur).next {
			if !fn(d.toEntry(cur)) {
				return
			}
		}
	}
}
