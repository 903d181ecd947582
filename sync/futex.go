// Copyright 2016 Aleksandr Demakin. All rights reserved.

//go:build linux

package sync

import (
	"time"
	"unsafe"

	"github.com/nxgtw/shmheap/internal/common"
)

// futex is a waitWaker over a process-shared memory cell.
type futex struct {
	ptr unsafe.Pointer
}

func (w *futex) wait(value uint32, timeout time.Duration) error {
	err := FutexWait(w.ptr, value, timeout, 0)
	if err != nil && common.IsWouldBlockErr(err) {
		return nil
	}
	return err
}

func (w *futex) wake(count uint32) (int, error) {
	return FutexWake(w.ptr, count, 0)
}
