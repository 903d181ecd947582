// Copyright 2016 Aleksandr Demakin. All rights reserved.

package managed

import (
	"math"
	"unsafe"

	"github.com/nxgtw/shmheap/internal/allocator"

	"github.com/pkg/errors"
)

const (
	blockAlign     = 16
	blockUsedMagic = uint32(0x55534544)
	blockFreeMagic = uint32(0x45455246)

	// blockPinned marks blocks of named objects and of the directory.
	// They can't be freed with deallocate.
	blockPinned = uint32(1)
)

// blockHeader precedes every block of the heap.
// Blocks are laid out one after another, so the next block is at off + size,
// and the previous one is at off - prevSize.
type blockHeader struct {
	size     uint64
	prevSize uint64
	magic    uint32
	flags    uint32
	userSize uint64
}

// freeLinks are stored in the payload of a free block.
type freeLinks struct {
	next Offset
	prev Offset
}

const (
	blockHeaderSize = uint64(unsafe.Sizeof(blockHeader{}))
	minBlockSize    = (blockHeaderSize + uint64(unsafe.Sizeof(freeLinks{})) + blockAlign - 1) &^ (blockAlign - 1)
)

// heap is a first-fit allocator with immediate coalescing.
// Its state is kept in the superblock, so heap itself is a process-local view.
// All methods must be called with the region lock held.
type heap struct {
	base unsafe.Pointer
	sb   *superblock
}

type heapStats struct {
	freeBytes   uint64
	freeBlocks  uint64
	usedBlocks  uint64
	largestFree uint64
}

func (h *heap) ptr(off Offset) unsafe.Pointer {
	return unsafe.Add(h.base, uintptr(off))
}

func (h *heap) header(b Offset) *blockHeader {
	return (*blockHeader)(h.ptr(b))
}

func (h *heap) links(b Offset) *freeLinks {
	return (*freeLinks)(h.ptr(b + Offset(blockHeaderSize)))
}

// init creates a single free block spanning [start, end).
func (h *heap) init(start, end uint64) {
	h.sb.heapStart = start
	h.sb.heapEnd = end
	h.sb.freeHead = 0
	b := Offset(start)
	hdr := h.header(b)
	*hdr = blockHeader{size: end - start, magic: blockFreeMagic}
	h.pushFree(b)
}

func (h *heap) size() uint64 {
	return h.sb.heapEnd - h.sb.heapStart
}

func (h *heap) pushFree(b Offset) {
	l := h.links(b)
	l.prev = 0
	l.next = h.sb.freeHead
	if !l.next.IsNil() {
		h.links(l.next).prev = b
	}
	h.sb.freeHead = b
}

func (h *heap) removeFree(b Offset) {
	l := h.links(b)
	if l.prev.IsNil() {
		h.sb.freeHead = l.next
	} else {
		h.links(l.prev).next = l.next
	}
	if !l.next.IsNil() {
		h.links(l.next).prev = l.prev
	}
	l.next, l.prev = 0, 0
}

func (h *heap) nextBlock(b Offset) Offset {
	next := uint64(b) + h.header(b).size
	if next >= h.sb.heapEnd {
		return 0
	}
	return Offset(next)
}

func (h *heap) prevBlock(b Offset) Offset {
	prevSize := h.header(b).prevSize
	if prevSize == 0 {
		return 0
	}
	return b - Offset(prevSize)
}

func (h *heap) validBlockSize(b Offset, size uint64) bool {
	return size >= minBlockSize && size%blockAlign == 0 && uint64(b)+size <= h.sb.heapEnd
}

func blockSizeFor(n uint64) (uint64, bool) {
	if n > math.MaxUint64-blockHeaderSize-blockAlign {
		return 0, false
	}
	size := alignUp(n+blockHeaderSize, blockAlign)
	if size < minBlockSize {
		size = minBlockSize
	}
	return size, true
}

// allocate returns the offset of a zeroed payload of at least n bytes.
func (h *heap) allocate(n uint64) (Offset, error) {
	off, err := h.tryAllocate(n)
	if err != nil {
		h.sb.allocErrors++
	}
	return off, err
}

// tryAllocate is allocate, which does not count failures.
func (h *heap) tryAllocate(n uint64) (Offset, error) {
	size, ok := blockSizeFor(n)
	if !ok || size > h.size() {
		return 0, errors.Wrapf(ErrOutOfSpace, "allocation of %d bytes", n)
	}
	b := h.findFree(size)
	if b.IsNil() {
		h.coalesceAll()
		b = h.findFree(size)
	}
	if b.IsNil() {
		return 0, errors.Wrapf(ErrOutOfSpace, "allocation of %d bytes", n)
	}
	h.removeFree(b)
	h.split(b, size)
	hdr := h.header(b)
	hdr.magic = blockUsedMagic
	hdr.flags = 0
	hdr.userSize = n
	payload := b + Offset(blockHeaderSize)
	allocator.ZeroMemory(h.ptr(payload), int(hdr.size-blockHeaderSize))
	h.sb.usedBytes += hdr.size
	h.sb.usedBlocks++
	h.sb.allocs++
	return payload, nil
}

func (h *heap) findFree(size uint64) Offset {
	for b := h.sb.freeHead; !b.IsNil(); b = h.links(b).next {
		if h.header(b).size >= size {
			return b
		}
	}
	return 0
}

// split cuts a block to the given size, if the rest can hold a block.
// The rest is put into the free list.
func (h *heap) split(b Offset, size uint64) {
	hdr := h.header(b)
	rest := hdr.size - size
	if rest < minBlockSize {
		return
	}
	hdr.size = size
	r := b + Offset(size)
	*h.header(r) = blockHeader{size: rest, prevSize: size, magic: blockFreeMagic}
	if next := h.nextBlock(r); !next.IsNil() {
		h.header(next).prevSize = rest
	}
	h.pushFree(r)
}

// blockOf returns the block of an allocated payload.
func (h *heap) blockOf(payload Offset) (Offset, error) {
	p := uint64(payload)
	if p < h.sb.heapStart+blockHeaderSize || p >= h.sb.heapEnd || (p-h.sb.heapStart)%blockAlign != 0 {
		return 0, errors.Wrapf(ErrInvalidOffset, "offset %v is out of the heap", payload)
	}
	b := payload - Offset(blockHeaderSize)
	hdr := h.header(b)
	if hdr.magic != blockUsedMagic || !h.validBlockSize(b, hdr.size) {
		return 0, errors.Wrapf(ErrInvalidOffset, "offset %v is not an allocated block", payload)
	}
	return b, nil
}

// usableSize returns the number of bytes available at the payload.
func (h *heap) usableSize(payload Offset) (uint64, error) {
	b, err := h.blockOf(payload)
	if err != nil {
		return 0, err
	}
	return h.header(b).size - blockHeaderSize, nil
}

// pin protects an allocated block from deallocate.
func (h *heap) pin(payload Offset) error {
	b, err := h.blockOf(payload)
	if err != nil {
		return err
	}
	h.header(b).flags |= blockPinned
	return nil
}

// unpin makes a pinned block freeable again.
func (h *heap) unpin(payload Offset) error {
	b, err := h.blockOf(payload)
	if err != nil {
		return err
	}
	h.header(b).flags &^= blockPinned
	return nil
}

func (h *heap) pinned(payload Offset) bool {
	b, err := h.blockOf(payload)
	return err == nil && h.header(b).flags&blockPinned != 0
}

// deallocate frees an unpinned block.
func (h *heap) deallocate(payload Offset) error {
	b, err := h.blockOf(payload)
	if err != nil {
		return err
	}
	if h.header(b).flags&blockPinned != 0 {
		return errors.Wrapf(ErrInvalidOffset, "offset %v belongs to a named object or the directory", payload)
	}
	h.free(b)
	return nil
}

// release frees a block regardless of its pin.
func (h *heap) release(payload Offset) error {
	b, err := h.blockOf(payload)
	if err != nil {
		return err
	}
	h.free(b)
	return nil
}

// free marks the block free and merges it with its free neighbours.
func (h *heap) free(b Offset) {
	hdr := h.header(b)
	h.sb.usedBytes -= hdr.size
	h.sb.usedBlocks--
	h.sb.frees++
	hdr.magic = blockFreeMagic
	hdr.flags = 0
	hdr.userSize = 0
	if next := h.nextBlock(b); !next.IsNil() {
		if nextHdr := h.header(next); nextHdr.magic == blockFreeMagic {
			h.removeFree(next)
			hdr.size += nextHdr.size
			nextHdr.magic = 0
		}
	}
	if prev := h.prevBlock(b); !prev.IsNil() {
		if prevHdr := h.header(prev); prevHdr.magic == blockFreeMagic {
			h.removeFree(prev)
			prevHdr.size += hdr.size
			hdr.magic = 0
			b, hdr = prev, prevHdr
		}
	}
	if next := h.nextBlock(b); !next.IsNil() {
		h.header(next).prevSize = hdr.size
	}
	h.pushFree(b)
}

// coalesceAll walks the whole block chain and merges adjacent free blocks.
// It returns the number of merges made.
func (h *heap) coalesceAll() int {
	var merged int
	for b := Offset(h.sb.heapStart); !b.IsNil(); b = h.nextBlock(b) {
		hdr := h.header(b)
		if hdr.magic != blockFreeMagic {
			continue
		}
		for next := h.nextBlock(b); !next.IsNil(); next = h.nextBlock(b) {
			nextHdr := h.header(next)
			if nextHdr.magic != blockFreeMagic {
				break
			}
			h.removeFree(next)
			hdr.size += nextHdr.size
			nextHdr.magic = 0
			merged++
		}
		if next := h.nextBlock(b); !next.IsNil() {
			h.header(next).prevSize = hdr.size
		}
	}
	return merged
}

// stats walks the block chain. It does not verify its consistency.
func (h *heap) stats() heapStats {
	var st heapStats
	for b := Offset(h.sb.heapStart); !b.IsNil(); b = h.nextBlock(b) {
		hdr := h.header(b)
		if !h.validBlockSize(b, hdr.size) {
			break
		}
		if hdr.magic == blockFreeMagic {
			st.freeBlocks++
			st.freeBytes += hdr.size
			if hdr.size > st.largestFree {
				st.largestFree = hdr.size
			}
		} else {
			st.usedBlocks++
		}
	}
	return st
}

// check verifies the block chain and the free list.
func (h *heap) check() error {
	var (
		prevSize   uint64
		prevFree   bool
		total      uint64
		usedBytes  uint64
		usedBlocks uint64
		freeBlocks uint64
	)
	for b := Offset(h.sb.heapStart); !b.IsNil(); b = h.nextBlock(b) {
		if uint64(b)+blockHeaderSize > h.sb.heapEnd {
			return errors.Wrapf(ErrCorrupted, "block %v exceeds the heap", b)
		}
		hdr := h.header(b)
		if !h.validBlockSize(b, hdr.size) {
			return errors.Wrapf(ErrCorrupted, "block %v has invalid size %d", b, hdr.size)
		}
		if hdr.prevSize != prevSize {
			return errors.Wrapf(ErrCorrupted, "block %v has invalid boundary tag %d, expected %d", b, hdr.prevSize, prevSize)
		}
		switch hdr.magic {
		case blockUsedMagic:
			if hdr.userSize > hdr.size-blockHeaderSize {
				return errors.Wrapf(ErrCorrupted, "block %v has invalid requested size %d", b, hdr.userSize)
			}
			usedBytes += hdr.size
			usedBlocks++
			prevFree = false
		case blockFreeMagic:
			if prevFree {
				return errors.Wrapf(ErrCorrupted, "free block %v is not coalesced", b)
			}
			if hdr.flags != 0 {
				return errors.Wrapf(ErrCorrupted, "free block %v is pinned", b)
			}
			freeBlocks++
			prevFree = true
		default:
			return errors.Wrapf(ErrCorrupted, "block %v has invalid magic %#x", b, hdr.magic)
		}
		total += hdr.size
		prevSize = hdr.size
	}
	if total != h.size() {
		return errors.Wrapf(ErrCorrupted, "blocks cover %d bytes, heap size is %d", total, h.size())
	}
	if usedBytes != h.sb.usedBytes || usedBlocks != h.sb.usedBlocks {
		return errors.Wrapf(ErrCorrupted, "used bytes/blocks counters are %d/%d, actual %d/%d",
			h.sb.usedBytes, h.sb.usedBlocks, usedBytes, usedBlocks)
	}
	var listed uint64
	var prev Offset
	for b := h.sb.freeHead; !b.IsNil(); b = h.links(b).next {
		if listed == freeBlocks {
			return errors.Wrapf(ErrCorrupted, "free list is longer than %d blocks", freeBlocks)
		}
		if uint64(b) < h.sb.heapStart || uint64(b)+minBlockSize > h.sb.heapEnd || (uint64(b)-h.sb.heapStart)%blockAlign != 0 {
			return errors.Wrapf(ErrCorrupted, "free list contains invalid offset %v", b)
		}
		if h.header(b).magic != blockFreeMagic {
			return errors.Wrapf(ErrCorrupted, "free list contains used block %v", b)
		}
		if h.links(b).prev != prev {
			return errors.Wrapf(ErrCorrupted, "free block %v has invalid back link", b)
		}
		prev = b
		listed++
	}
	if listed != freeBlocks {
		return errors.Wrapf(ErrCorrupted, "free list has %d blocks, chain has %d", listed, freeBlocks)
	}
	return nil
}
