// Copyright 2016 Aleksandr Demakin. All rights reserved.

package managed

import (
	"encoding/binary"
	"reflect"
	"sync"

	"github.com/nxgtw/shmheap/internal/allocator"

	"github.com/dchest/siphash"
	"github.com/pkg/errors"
)

// fixed keys, so that every process computes the same tag for the same type.
const (
	typeTagKey0 = uint64(0x0706050403020100)
	typeTagKey1 = uint64(0x0f0e0d0c0b0a0908)
)

type typeInfo struct {
	tag  uint64
	name string
	size uint64
}

// reflect.Type -> typeInfo
var typeInfos sync.Map

// typeInfoOf returns the tag of T, which is stored in the directory
// along with every object of this type.
func typeInfoOf[T any]() (typeInfo, error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if cached, ok := typeInfos.Load(t); ok {
		return cached.(typeInfo), nil
	}
	if err := allocator.CheckFlatType(t); err != nil {
		return typeInfo{}, errors.Wrapf(ErrInvalidType, "%s: %v", t, err)
	}
	info := typeInfo{name: typeName(t), size: uint64(t.Size())}
	info.tag = typeTag(info.name, info.size)
	typeInfos.Store(t, info)
	return info, nil
}

func typeName(t reflect.Type) string {
	if t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

func typeTag(name string, size uint64) uint64 {
	data := make([]byte, len(name)+8)
	copy(data, name)
	binary.LittleEndian.PutUint64(data[len(name):], size)
	return siphash.Hash(typeTagKey0, typeTagKey1, data)
}
