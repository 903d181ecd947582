// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package managed implements a heap inside a named shared memory region.
//
// A region is created once with Create and opened by any number of processes with Open.
// Memory is allocated and freed with Manager.Allocate and Manager.Deallocate,
// and is addressed with offsets from the beginning of the region,
// because every process maps the region at its own address.
//
// Objects can be given names:
//	type point struct{ X, Y int64 }
//	p, err := managed.Construct[point](m, "origin", nil)
//	...
//	// in another process
//	p, err := managed.Find[point](m, "origin")
//
// Allocations and the directory of names are protected with a mutex stored in the region.
// The contents of the objects are not, so processes sharing an object must synchronize
// access to it by themselves.
// If a process dies holding the region lock, the region stays locked.
package managed
