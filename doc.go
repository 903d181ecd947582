// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package shmheap provides a heap living in named shared memory.
// Several processes map the same region and allocate, name and find objects in it.
//
// The implementation is split into the following packages:
//	shm - named shared memory objects (linux)
//	mmf - memory mapping of shared memory objects and files
//	sync - a futex based mutex, which can be placed into shared memory
//	managed - the heap itself: allocation, named objects, statistics
//	container - a vector and a hash map built on top of a managed region
// The shmheap command (cmd/shmheap) inspects and maintains existing regions.
package shmheap
