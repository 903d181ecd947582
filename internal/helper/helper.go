// Copyright 2016 Aleksandr Demakin. All rights reserved.

package helper

import (
	"os"

	"github.com/nxgtw/shmheap/mmf"
	"github.com/nxgtw/shmheap/shm"

	"github.com/pkg/errors"
)

// ErrEmptyObject is returned, when a shared memory object exists, but has not been resized yet.
var ErrEmptyObject = errors.New("shared memory object is empty")

// CreateWritableRegion is a helper, which:
//	- creates a shared memory object with given parameters.
//	- creates a mapping for the entire region with mmf.MEM_READWRITE flag.
//	- closes memory object and returns memory region and a flag whether the object was created.
func CreateWritableRegion(name string, flag int, perm os.FileMode, size int) (*mmf.MemoryRegion, bool, error) {
	obj, created, resultErr := shm.NewMemoryObjectSize(name, flag|os.O_RDWR, perm, int64(size))
	if resultErr != nil {
		return nil, false, errors.Wrap(resultErr, "failed to create shm object")
	}
	var region *mmf.MemoryRegion
	defer func() {
		obj.Close()
		if resultErr == nil {
			return
		}
		if region != nil {
			region.Close()
		}
		if created {
			obj.Destroy()
		}
	}()
	if region, resultErr = mmf.NewMemoryRegion(obj, mmf.MEM_READWRITE, 0, size); resultErr != nil {
		return nil, false, errors.Wrap(resultErr, "failed to create shm region")
	}
	return region, created, nil
}

// OpenWritableRegion opens an existing shared memory object and maps all of it
// with mmf.MEM_READWRITE flag. ErrEmptyObject is returned for objects of zero size.
func OpenWritableRegion(name string) (*mmf.MemoryRegion, error) {
	obj, err := shm.NewMemoryObject(name, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open shm object")
	}
	defer obj.Close()
	size := obj.Size()
	if size == 0 {
		return nil, ErrEmptyObject
	}
	region, err := mmf.NewMemoryRegion(obj, mmf.MEM_READWRITE, 0, int(size))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create shm region")
	}
	return region, nil
}
