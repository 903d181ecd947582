// Copyright 2015 Aleksandr Demakin. All rights reserved.

// Package mmf maps files and shared memory objects into the address space of the process.
package mmf

import (
	"os"
	"runtime"

	"github.com/pkg/errors"
)

const (
	// MEM_READ_ONLY means that the region is mapped for reading only.
	MEM_READ_ONLY = iota
	// MEM_READ_PRIVATE is a private read-only mapping.
	MEM_READ_PRIVATE
	// MEM_READWRITE is a shared read-write mapping. Changes are visible to other processes.
	MEM_READWRITE
	// MEM_COPY_ON_WRITE is a private writable mapping. Changes are not propagated to the object.
	MEM_COPY_ON_WRITE
)

var (
	mmapOffsetMultiple int64
)

// MemoryRegion is a mmapped area of a memory object.
// Warning. The internal object has a finalizer set,
// so the region will be unmapped during the gc.
// Thus, you should be carefull getting internal data.
// For example, the following code may crash:
// 	func f() {
// 		region := NewMemoryRegion(...)
// 		return g(region.Data())
// 	}
// region may be gc'ed while its data is used by g().
// Keep a reference to the region as long as its data is in use.
type MemoryRegion struct {
	*memoryRegion
}

// Mappable is a named object, which can return a handle,
// that can be used as a file descriptor for mmap.
type Mappable interface {
	Fd() uintptr
	Name() string
}

// NewMemoryRegion creates a new shared memory region.
// 	object - an object to mmap.
// 	mode - open mode. see MEM_* constants
// 	offset - offset in bytes from the beginning of the mmaped file
// 	size - mapping size. if 0, the size of the object is used.
func NewMemoryRegion(object Mappable, mode int, offset int64, size int) (*MemoryRegion, error) {
	impl, err := newMemoryRegion(object, mode, offset, size)
	if err != nil {
		return nil, err
	}
	result := &MemoryRegion{impl}
	runtime.SetFinalizer(impl, func(region *memoryRegion) {
		region.Close()
	})
	return result, nil
}

// Close unmaps the regions so that it cannot be longer used.
func (region *MemoryRegion) Close() error {
	return region.memoryRegion.Close()
}

// Data returns region's mapped data.
func (region *MemoryRegion) Data() []byte {
	return region.memoryRegion.Data()
}

// Flush syncs mapped content with the file data.
func (region *MemoryRegion) Flush(async bool) error {
	return region.memoryRegion.Flush(async)
}

// Size returns mapping size.
func (region *MemoryRegion) Size() int {
	return region.memoryRegion.Size()
}

// calcMmapOffsetFixup returns a value X,
// so that  offset - X is a valid mmap offset.
// The value of the fixup is less than a memory page size.
func calcMmapOffsetFixup(offset int64) int64 {
	return offset - (offset/mmapOffsetMultiple)*mmapOffsetMultiple
}

// fileInfoGetter is used to obtain file's size
type fileInfoGetter interface {
	Stat() (os.FileInfo, error)
}

// sizer is implemented by shared memory objects.
type sizer interface {
	Size() int64
}

func fileSizeFromFd(f Mappable) (int64, error) {
	if f.Fd() == ^uintptr(0) {
		return 0, nil
	}
	switch typed := f.(type) {
	case fileInfoGetter:
		fi, err := typed.Stat()
		if err != nil {
			return 0, err
		}
		return fi.Size(), nil
	case sizer:
		return typed.Size(), nil
	}
	return 0, nil
}

func checkMmapSize(f Mappable, size int) (int, error) {
	if size < 0 {
		return 0, errors.Errorf("invalid mapping size %d", size)
	}
	if size == 0 {
		if f.Fd() == ^uintptr(0) {
			return 0, errors.New("must provide a valid file size")
		}
		sz, err := fileSizeFromFd(f)
		if err != nil {
			return 0, err
		}
		if sz == 0 {
			return 0, errors.New("cannot map an empty object")
		}
		size = int(sz)
	}
	return size, nil
}
