// Copyright 2015 Aleksandr Demakin. All rights reserved.

package allocator

import (
	"reflect"
	"unsafe"

	"github.com/pkg/errors"
)

// ByteSliceData returns a pointer to the data of the given byte slice.
func ByteSliceData(slice []byte) unsafe.Pointer {
	return unsafe.Pointer(unsafe.SliceData(slice))
}

// ByteSliceFromUnsafePointer returns a slice of bytes with given length and capacity.
// Memory pointed by the unsafe.Pointer is used for the slice.
func ByteSliceFromUnsafePointer(memory unsafe.Pointer, length, capacity int) []byte {
	return unsafe.Slice((*byte)(memory), capacity)[:length]
}

// AdvancePointer adds shift value to 'p' pointer.
func AdvancePointer(p unsafe.Pointer, shift uintptr) unsafe.Pointer {
	return unsafe.Add(p, shift)
}

// ZeroMemory fills size bytes starting from p with zeroes.
func ZeroMemory(p unsafe.Pointer, size int) {
	clear(ByteSliceFromUnsafePointer(p, size, size))
}

// CheckFlatType checks if an object of type t can be placed into a shared memory region.
// Such objects must be stored continuously in the memory and must not contain
// any references, i.e. pointers, slices, maps, strings, interfaces, chans or funcs,
// as they make sense in the address space of the current process only.
func CheckFlatType(t reflect.Type) error {
	if t == nil {
		return errors.New("nil type")
	}
	return checkType(t)
}

func checkType(t reflect.Type) error {
	kind := t.Kind()
	switch kind {
	case reflect.Array:
		if err := checkType(t.Elem()); err != nil {
			return errors.Wrapf(err, "array %s", t.String())
		}
		return nil
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if err := checkType(field.Type); err != nil {
				return errors.Wrapf(err, "field %s", field.Name)
			}
		}
		return nil
	}
	return checkNumericType(kind)
}

func checkNumericType(kind reflect.Kind) error {
	if kind >= reflect.Bool && kind <= reflect.Complex128 {
		return nil
	}
	return errors.Errorf("unsupported type %q", kind.String())
}
