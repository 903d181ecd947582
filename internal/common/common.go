// Copyright 2016 Aleksandr Demakin. All rights reserved.

package common

import (
	"os"
	"syscall"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

// OpenOrCreate calls creator with create=true, and, if the object already exists,
// with create=false. If the object disappears between the two calls,
// the sequence is repeated according to the backoff policy.
// It returns true, if the object was created.
func OpenOrCreate(creator func(create bool) error, b backoff.BackOff) (bool, error) {
	var created bool
	op := func() error {
		err := creator(true)
		if !os.IsExist(errors.Cause(err)) {
			created = err == nil
			return backoff.Permanent(err)
		}
		err = creator(false)
		if os.IsNotExist(errors.Cause(err)) {
			return err
		}
		created = false
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(op, b); err != nil {
		return false, err
	}
	return created, nil
}

// SyscallErrHasCode returns true, if the given error is a syscall error with the given code.
func SyscallErrHasCode(err error, code syscall.Errno) bool {
	switch typed := errors.Cause(err).(type) {
	case *os.SyscallError:
		if errno, ok := typed.Err.(syscall.Errno); ok {
			return errno == code
		}
	case syscall.Errno:
		return typed == code
	}
	return false
}
