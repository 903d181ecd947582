// Copyright 2016 Aleksandr Demakin. All rights reserved.

package managed

import (
	"github.com/pkg/errors"
)

// Errors returned by the package. They are wrapped with additional context,
// so errors.Is must be used to check for them.
var (
	// ErrAlreadyExists is returned, when a region with the given name already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotFound is returned, when a region or a named object does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNameCollision is returned, when an object with the same name has been registered.
	ErrNameCollision = errors.New("name collision")
	// ErrOutOfSpace is returned, when the region has no free block large enough.
	ErrOutOfSpace = errors.New("out of space")
	// ErrInvalidOffset is returned, when an offset does not point to a live allocation.
	ErrInvalidOffset = errors.New("invalid offset")
	// ErrTypeMismatch is returned, when a named object has a different type.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrLockTimeout is returned, when the region lock could not be acquired in time.
	ErrLockTimeout = errors.New("lock timeout")
	// ErrCorrupted is returned, when region metadata is inconsistent.
	ErrCorrupted = errors.New("corrupted")
	// ErrInvalidType is returned for types, which can't be placed into shared memory.
	ErrInvalidType = errors.New("invalid type")
	// ErrClosed is returned by the methods of a closed manager.
	ErrClosed = errors.New("manager is closed")
)
