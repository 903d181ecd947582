// Copyright 2016 Aleksandr Demakin. All rights reserved.

//go:build linux

package sync

import (
	"time"
	"unsafe"
)

// InplaceMutexSize is the number of bytes an InplaceMutex occupies in memory.
const InplaceMutexSize = lwmStateSize

var (
	_ TimedLocker = (*InplaceMutex)(nil)
)

// InplaceMutex is a futex-based mutex, which can be placed into a shared memory region.
// Its whole state is a single uint32, so it can be used by any number of processes,
// which have the memory mapped, regardless of the mapping address.
// If a process dies while holding the mutex, the mutex stays locked.
type InplaceMutex struct {
	lwm *lwMutex
}

// NewInplaceMutex creates a mutex object on the given memory location.
//	ptr - memory location for the state. must be 4-byte aligned.
func NewInplaceMutex(ptr unsafe.Pointer) *InplaceMutex {
	return &InplaceMutex{lwm: newLightweightMutex(ptr, &futex{ptr: ptr})}
}

// Init writes initial value into mutex's memory location.
// It must be called exactly once by the creator of the memory, before the mutex is shared.
func (im *InplaceMutex) Init() {
	im.lwm.init()
}

// Lock locks the mutex. It panics on an error.
func (im *InplaceMutex) Lock() {
	im.lwm.lock()
}

// TryLock makes one attempt to lock the mutex. It return true on succeess and false otherwise.
func (im *InplaceMutex) TryLock() bool {
	return im.lwm.tryLock()
}

// LockTimeout tries to lock the locker, waiting for not more, than timeout.
func (im *InplaceMutex) LockTimeout(timeout time.Duration) bool {
	return im.lwm.lockTimeout(timeout)
}

// Unlock releases the mutex. It panics on an error, or if the mutex is not locked.
func (im *InplaceMutex) Unlock() {
	im.lwm.unlock()
}
