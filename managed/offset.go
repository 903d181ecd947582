// Copyright 2016 Aleksandr Demakin. All rights reserved.

package managed

import (
	"strconv"
)

// Offset is a position of an object relative to the beginning of a region.
// Offsets are valid in every process, which has the region mapped.
// The zero offset is never returned for an allocation and means 'nil'.
type Offset uint64

// IsNil returns true for the zero offset.
func (off Offset) IsNil() bool {
	return off == 0
}

func (off Offset) String() string {
	return "0x" + strconv.FormatUint(uint64(off), 16)
}

func alignUp(value, align uint64) uint64 {
	return (value + align - 1) &^ (align - 1)
}
