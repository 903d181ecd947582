// Copyright 2016 Aleksandr Demakin. All rights reserved.

package managed

import (
	"sync/atomic"
	"unsafe"
)

const (
	superblockMagic   = uint64(0x31706165686d6873) // "shmheap1"
	superblockVersion = uint32(1)
)

// superblock is the control block at offset 0 of every managed region.
// All fields except magic are accessed under the region lock.
type superblock struct {
	magic    uint64
	version  uint32
	lock     uint32
	capacity uint64
	// heap is [heapStart, heapEnd).
	heapStart uint64
	heapEnd   uint64
	id        [16]byte
	hashKey0  uint64
	hashKey1  uint64
	freeHead  Offset
	// directory
	buckets  Offset
	nbuckets uint64
	objects  uint64
	// counters
	usedBytes   uint64
	usedBlocks  uint64
	allocs      uint64
	frees       uint64
	allocErrors uint64
}

const (
	superblockSize = uint64(unsafe.Sizeof(superblock{}))
)

func (sb *superblock) published() bool {
	return atomic.LoadUint64(&sb.magic) == superblockMagic
}

// publish makes the region visible to the processes waiting in Open.
// It must be the last write of the creator.
func (sb *superblock) publish() {
	atomic.StoreUint64(&sb.magic, superblockMagic)
}

func (sb *superblock) lockPtr() unsafe.Pointer {
	return unsafe.Pointer(&sb.lock)
}
