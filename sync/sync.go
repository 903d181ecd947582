// Copyright 2015 Aleksandr Demakin. All rights reserved.

// Package sync implements process-shared synchronization primitives,
// which live inside shared memory regions.
package sync

import (
	"sync"
	"time"
)

// TimedLocker is a locker, whose lock operation can be limited with duration.
type TimedLocker interface {
	sync.Locker
	// LockTimeout tries to lock the locker, waiting for not more, than timeout.
	LockTimeout(timeout time.Duration) bool
}
