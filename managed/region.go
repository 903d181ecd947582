// Copyright 2016 Aleksandr Demakin. All rights reserved.

package managed

import (
	"os"
	"unsafe"

	"github.com/nxgtw/shmheap/internal/allocator"
	"github.com/nxgtw/shmheap/internal/helper"
	"github.com/nxgtw/shmheap/mmf"
	"github.com/nxgtw/shmheap/shm"

	"github.com/pkg/errors"
)

// Region is a named shared memory object mapped into the address space of the process.
// Every mapping of a region has its own base address.
type Region struct {
	name   string
	region *mmf.MemoryRegion
}

// CreateRegion creates a new shared memory object of exactly capacity bytes
// and maps it for reading and writing. The memory is zeroed.
// ErrAlreadyExists is returned, if an object with the same name exists.
func CreateRegion(name string, capacity int, perm os.FileMode) (*Region, error) {
	if capacity <= 0 {
		return nil, errors.Errorf("invalid region capacity %d", capacity)
	}
	region, _, err := helper.CreateWritableRegion(name, os.O_CREATE|os.O_EXCL, perm, capacity)
	if err != nil {
		if os.IsExist(errors.Cause(err)) {
			return nil, errors.Wrapf(ErrAlreadyExists, "region %q", name)
		}
		return nil, errors.Wrapf(err, "failed to create region %q", name)
	}
	return &Region{name: name, region: region}, nil
}

// OpenRegion maps an existing shared memory object.
// ErrNotFound is returned, if there is no object with the given name.
func OpenRegion(name string) (*Region, error) {
	region, err := helper.OpenWritableRegion(name)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Wrapf(ErrNotFound, "region %q", name)
		}
		return nil, errors.Wrapf(err, "failed to open region %q", name)
	}
	return &Region{name: name, region: region}, nil
}

// RemoveRegion removes the name of a shared memory object.
// Existing mappings stay valid until they are closed.
// ErrNotFound is returned, if there is no object with the given name.
func RemoveRegion(name string) error {
	if err := shm.DestroyMemoryObject(name); err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return errors.Wrapf(ErrNotFound, "region %q", name)
		}
		return errors.Wrapf(err, "failed to remove region %q", name)
	}
	return nil
}

// Name returns the name of the region.
func (r *Region) Name() string {
	return r.name
}

// Size returns region's capacity in bytes.
func (r *Region) Size() int {
	return r.region.Size()
}

// Data returns mapped memory of the region.
func (r *Region) Data() []byte {
	return r.region.Data()
}

// Reader returns a reader over the mapped memory.
func (r *Region) Reader() *mmf.MemoryRegionReader {
	return mmf.NewMemoryRegionReader(r.region)
}

// Flush syncs mapped memory with the object.
func (r *Region) Flush() error {
	return errors.Wrap(r.region.Flush(false), "failed to flush region")
}

// Close unmaps the region. It does not remove the object.
func (r *Region) Close() error {
	return errors.Wrap(r.region.Close(), "failed to close region")
}

func (r *Region) base() unsafe.Pointer {
	return allocator.ByteSliceData(r.region.Data())
}
