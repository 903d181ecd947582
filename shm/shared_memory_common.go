// Copyright 2015 Aleksandr Demakin. All rights reserved.

package shm

import (
	"github.com/nxgtw/shmheap/mmf"
)

// this is to ensure, that all implementations of shm-related structs
// satisfy the same minimal interface.
var (
	_ SharedMemoryObject = (*MemoryObject)(nil)
	_ iSharedMemoryRegion = (*mmf.MemoryRegion)(nil)
)

// SharedMemoryObject is an interface, which must be implemented
// by any implementation of an object used for mapping into memory.
type SharedMemoryObject interface {
	Name() string
	Size() int64
	Truncate(size int64) error
	Close() error
	Destroy() error
	mmf.Mappable
}

type iSharedMemoryRegion interface {
	Data() []byte
	Size() int
	Flush(async bool) error
	Close() error
}
