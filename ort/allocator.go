package ort

import "fmt"

// Allocator wraps the runtime's default OrtAllocator. The native allocator is
// owned by the library, so Release only stops further use of the wrapper.
type Allocator struct {
	handle
	api *apiFuncs
}

func defaultAllocator(api *apiFuncs) (*Allocator, error) {
	var ptr uintptr
	if err := api.check("GetAllocatorWithDefaultOptions", api.getAllocatorWithDefaultOptions(&ptr)); err != nil {
		return nil, err
	}
	if ptr == 0 {
		return nil, fmt.Errorf("GetAllocatorWithDefaultOptions returned nil")
	}
	return &Allocator{handle: newHandle("allocator", ptr, nil), api: api}, nil
}

// Alloc returns size bytes of native memory. The caller frees it with Free.
func (a *Allocator) Alloc(size uintptr) (uintptr, error) {
	if size == 0 {
		return 0, invalidArgument("allocation size must be positive")
	}
	var p uintptr
	err := a.use(func(ptr uintptr) error {
		if err := a.api.check("AllocatorAlloc", a.api.allocatorAlloc(ptr, size, &p)); err != nil {
			return err
		}
		if p == 0 {
			return fmt.Errorf("AllocatorAlloc returned nil for %d bytes", size)
		}
		return nil
	})
	return p, err
}

// Free returns memory obtained from Alloc or from a runtime call that
// documents allocation with this allocator.
func (a *Allocator) Free(p uintptr) error {
	if p == 0 {
		return nil
	}
	return a.use(func(ptr uintptr) error {
		return a.api.check("AllocatorFree", a.api.allocatorFree(ptr, p))
	})
}

// Release marks the wrapper unusable.
func (a *Allocator) Release() error {
	if a == nil {
		return nil
	}
	return a.handle.Release()
}
