// Copyright 2016 Aleksandr Demakin. All rights reserved.

//go:build linux

package common

import (
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// TimeoutToTimeSpec converts relative timeout into a timespec.
// Negative timeout means 'no timeout' and results in a nil value.
func TimeoutToTimeSpec(timeout time.Duration) *unix.Timespec {
	if timeout >= 0 {
		ts := unix.NsecToTimespec(timeout.Nanoseconds())
		return &ts
	}
	return nil
}

// IsInterruptedSyscallErr returns true, if the syscall was interrupted by a signal.
func IsInterruptedSyscallErr(err error) bool {
	return SyscallErrHasCode(err, syscall.EINTR)
}

// IsTimeoutErr returns true, if a timed wait expired.
func IsTimeoutErr(err error) bool {
	return SyscallErrHasCode(err, syscall.ETIMEDOUT)
}

// IsWouldBlockErr returns true, if a futex value did not match the expected one.
func IsWouldBlockErr(err error) bool {
	return SyscallErrHasCode(err, unix.EWOULDBLOCK)
}
