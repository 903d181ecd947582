// Copyright 2015 Aleksandr Demakin. All rights reserved.

package shm

import (
	"os"
	"runtime"

	"github.com/pkg/errors"
)

// MemoryObject represents an object which can be used to
// map shared memory regions into the process' address space.
type MemoryObject struct {
	*memoryObject
}

// NewMemoryObject creates a new shared memory object.
//	name - a name of the object. should not contain '/' and exceed 255 symbols.
//	flag - flag is a combination of open flags from 'os' package.
//	perm - object's permission bits.
func NewMemoryObject(name string, flag int, perm os.FileMode) (*MemoryObject, error) {
	impl, err := newMemoryObject(name, flag, perm)
	if err != nil {
		return nil, err
	}
	result := &MemoryObject{impl}
	runtime.SetFinalizer(impl, func(memObject *memoryObject) {
		memObject.Close()
	})
	return result, nil
}

// NewMemoryObjectSize opens or creates a shared memory object with the given name.
// If the object was created, it is truncated to 'size'.
// Otherwise, checks, that the existing object is at least 'size' bytes long.
// Returns an object, true if it was created, and an error.
func NewMemoryObjectSize(name string, flag int, perm os.FileMode, size int64) (*MemoryObject, bool, error) {
	obj, err := NewMemoryObject(name, flag, perm)
	if err != nil {
		return nil, false, err
	}
	created := flag&(os.O_CREATE|os.O_EXCL) == os.O_CREATE|os.O_EXCL ||
		(flag&os.O_CREATE != 0 && obj.Size() == 0)
	if created {
		if err = obj.Truncate(size); err != nil {
			obj.Destroy()
			return nil, false, errors.Wrap(err, "failed to truncate shm object")
		}
	} else if obj.Size() < size {
		obj.Close()
		return nil, false, errors.Errorf("existing object has invalid size %d, expected at least %d", obj.Size(), size)
	}
	return obj, created, nil
}

// DestroyMemoryObject permanently removes given memory object.
// If the object does not exist, an error satisfying os.IsNotExist is returned.
func DestroyMemoryObject(name string) error {
	return destroyMemoryObject(name)
}
