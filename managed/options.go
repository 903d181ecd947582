// Copyright 2016 Aleksandr Demakin. All rights reserved.

package managed

import (
	"io"
	"log/slog"
	"os"
	"time"
)

const (
	defaultPerm        = os.FileMode(0666)
	defaultOpenTimeout = 5 * time.Second
)

type options struct {
	perm        os.FileMode
	logger      *slog.Logger
	lockTimeout time.Duration
	openTimeout time.Duration
}

// Option configures Create, Open and OpenOrCreate.
type Option func(*options)

func defaultOptions() options {
	return options{
		perm:        defaultPerm,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		lockTimeout: -1,
		openTimeout: defaultOpenTimeout,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithPerm sets permission bits of a newly created region.
func WithPerm(perm os.FileMode) Option {
	return func(o *options) {
		o.perm = perm
	}
}

// WithLogger sets a logger for the manager. If nil is passed, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		}
		o.logger = logger
	}
}

// WithLockTimeout limits the time an operation waits for the region lock.
// When it expires, the operation fails with ErrLockTimeout.
// A negative value means waiting forever, which is the default.
func WithLockTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.lockTimeout = timeout
	}
}

// WithOpenTimeout sets how long Open waits for a concurrently created region to be initialized.
func WithOpenTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.openTimeout = timeout
	}
}
