// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package container implements containers, which are stored in managed shared memory regions.
// A container is registered in the region under a name, so other processes can find it.
// Containers are not synchronized.
package container

import (
	"github.com/pkg/errors"
)

// ErrAllocatorMismatch is returned, when containers from different regions can't share memory.
var ErrAllocatorMismatch = errors.New("containers use different regions")
