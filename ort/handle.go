package ort

import (
	"errors"
	"sync"
)

// Releaser is implemented by every native resource wrapper.
type Releaser interface {
	Release() error
}

// handle owns a single native pointer. Use holds a read lock for the duration
// of the native call so Release cannot free the pointer underneath it.
type handle struct {
	kind    string
	mu      sync.RWMutex
	ptr     uintptr
	freed   bool
	release func(uintptr) error
}

func newHandle(kind string, ptr uintptr, release func(uintptr) error) handle {
	return handle{kind: kind, ptr: ptr, release: release}
}

// use runs fn with the live pointer, or returns ErrDisposed.
func (h *handle) use(fn func(ptr uintptr) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.freed || h.ptr == 0 {
		return disposed(h.kind)
	}
	return fn(h.ptr)
}

// Disposed reports whether Release has already run.
func (h *handle) Disposed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.freed
}

// Release frees the native object the first time it is called. Later calls
// are no-ops.
func (h *handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.freed {
		return nil
	}
	h.freed = true
	ptr := h.ptr
	h.ptr = 0
	if ptr == 0 || h.release == nil {
		return nil
	}
	return h.release(ptr)
}

// ReleaseAll releases every non-nil resource in order and joins the errors.
func ReleaseAll(resources ...Releaser) error {
	var errs []error
	for _, r := range resources {
		if r == nil {
			continue
		}
		if err := r.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
