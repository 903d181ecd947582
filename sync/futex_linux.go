// Copyright 2016 Aleksandr Demakin. All rights reserved.

//go:build linux

package sync

import (
	"os"
	"runtime"
	"time"
	"unsafe"

	"github.com/nxgtw/shmheap/internal/common"

	"golang.org/x/sys/unix"
)

const (
	cFUTEX_WAIT = 0
	cFUTEX_WAKE = 1

	// FUTEX_PRIVATE_FLAG can be used with futexes, which are not shared between processes.
	FUTEX_PRIVATE_FLAG = 128
)

// FutexWait checks if the the value equals futex's value.
// If it doesn't, Wait returns EWOULDBLOCK.
// Otherwise, it waits for the Wake call on the futex for not longer, than timeout.
// Negative timeout means infinite wait.
func FutexWait(addr unsafe.Pointer, value uint32, timeout time.Duration, flags int32) error {
	ts := common.TimeoutToTimeSpec(timeout)
	for {
		_, err := sysFutex(addr, cFUTEX_WAIT|flags, value, unsafe.Pointer(ts))
		if err == nil || !common.IsInterruptedSyscallErr(err) {
			runtime.KeepAlive(ts)
			return err
		}
	}
}

// FutexWake wakes count threads waiting on the futex.
// Returns the number of woken threads.
func FutexWake(addr unsafe.Pointer, count uint32, flags int32) (int, error) {
	for {
		woken, err := sysFutex(addr, cFUTEX_WAKE|flags, count, nil)
		if err == nil {
			return int(woken), nil
		}
		if !common.IsInterruptedSyscallErr(err) {
			return 0, err
		}
	}
}

func sysFutex(addr unsafe.Pointer, op int32, val uint32, ts unsafe.Pointer) (int32, error) {
	r1, _, err := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(addr),
		uintptr(op),
		uintptr(val),
		uintptr(ts),
		0,
		0)
	if err != 0 {
		return 0, os.NewSyscallError("FUTEX", err)
	}
	return int32(r1), nil
}
