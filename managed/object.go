// Copyright 2016 Aleksandr Demakin. All rights reserved.

package managed

import (
	"github.com/pkg/errors"
)

// Destructor is implemented by objects, which own memory of the region.
// Destroy calls Destruct before freeing the object itself.
// Construct calls it, if the object can't be registered after its constructor has run,
// so Destruct must handle objects, whose constructor failed halfway.
type Destructor interface {
	Destruct(a Allocator) error
}

// Construct allocates a zeroed T in the region, calls ctor on it, and registers it under the name.
// ctor may be nil. If it is not, it can use the allocator to allocate memory for the object.
// T must not contain pointers, slices, strings, maps, interfaces, chans or funcs.
// On any error nothing is registered and all the allocated memory is freed.
func Construct[T any](m *Manager, name string, ctor func(obj *T, a Allocator) error) (*T, error) {
	info, err := typeInfoOf[T]()
	if err != nil {
		return nil, err
	}
	if err := checkObjectName(name); err != nil {
		return nil, err
	}
	if err := m.lock(); err != nil {
		return nil, err
	}
	if _, cur := m.dir.find(name); !cur.IsNil() {
		m.unlock()
		return nil, errors.Wrapf(ErrNameCollision, "object %q", name)
	}
	off, err := m.heap.allocate(info.size)
	m.unlock()
	if err != nil {
		m.logger.Warn("object allocation failed", "name", name, "type", info.name, "error", err)
		return nil, errors.Wrapf(err, "object %q", name)
	}
	obj := (*T)(m.pointer(off))
	release := func() {
		if d, ok := any(obj).(Destructor); ok {
			if err := d.Destruct(m.Allocator()); err != nil {
				m.logger.Error("failed to destruct object", "name", name, "error", err)
			}
		}
		if err := m.Deallocate(off); err != nil {
			m.logger.Error("failed to free object", "name", name, "error", err)
		}
	}
	if ctor != nil {
		if err := ctor(obj, m.Allocator()); err != nil {
			release()
			return nil, errors.Wrapf(err, "failed to construct %q", name)
		}
	}
	if err := m.lock(); err != nil {
		release()
		return nil, err
	}
	if err = m.heap.pin(off); err == nil {
		if err = m.dir.register(name, off, info.size, info.tag, info.name); err != nil {
			m.heap.unpin(off)
		}
	}
	m.unlock()
	if err != nil {
		release()
		return nil, err
	}
	m.logger.Debug("object constructed", "name", name, "type", info.name, "offset", off.String())
	return obj, nil
}

// Find returns the object with the given name.
// ErrNotFound is returned, if there is no such object,
// ErrTypeMismatch - if it was constructed with a different type.
func Find[T any](m *Manager, name string) (*T, error) {
	info, err := typeInfoOf[T]()
	if err != nil {
		return nil, err
	}
	if err := m.lock(); err != nil {
		return nil, err
	}
	e, err := m.dir.lookup(name)
	m.unlock()
	if err != nil {
		return nil, err
	}
	if err := checkEntryType(e, info); err != nil {
		return nil, err
	}
	return (*T)(m.pointer(e.Offset)), nil
}

// Destroy unregisters the object with the given name, calls its Destruct method,
// if *T implements Destructor, and frees it.
func Destroy[T any](m *Manager, name string) error {
	info, err := typeInfoOf[T]()
	if err != nil {
		return err
	}
	if err := m.lock(); err != nil {
		return err
	}
	e, err := m.dir.lookup(name)
	if err == nil {
		if err = checkEntryType(e, info); err == nil {
			if _, err = m.dir.unregister(name); err == nil {
				err = m.heap.unpin(e.Offset)
			}
		}
	}
	m.unlock()
	if err != nil {
		return err
	}
	var dtorErr error
	if d, ok := any((*T)(m.pointer(e.Offset))).(Destructor); ok {
		dtorErr = d.Destruct(m.Allocator())
	}
	if err := m.Deallocate(e.Offset); err != nil {
		return err
	}
	m.logger.Debug("object destroyed", "name", name, "type", info.name)
	return errors.Wrapf(dtorErr, "failed to destruct %q", name)
}

func checkEntryType(e Entry, info typeInfo) error {
	if e.TypeTag != info.tag || e.Length != info.size {
		return errors.Wrapf(ErrTypeMismatch, "object %q has type %s, not %s", e.Name, e.TypeName, info.name)
	}
	return nil
}
