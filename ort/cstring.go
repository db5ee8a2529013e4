package ort

import (
	"runtime"
	"unsafe"
)

// maxCStringLen bounds the scan for a terminator. Runtime strings (versions,
// error messages, tensor names) are far below this.
const maxCStringLen = 1 << 20

// minValidAddress rejects pointers inside the first page, which can only be
// garbage or a small integer passed by mistake.
const minValidAddress = 4096

// CstringToGo copies a null-terminated C string into a Go string.
// A zero or implausibly low pointer yields the empty string.
func CstringToGo(ptr uintptr) string {
	if ptr < minValidAddress {
		return ""
	}

	// #nosec G103 -- pointer comes from the native runtime.
	p := unsafe.Pointer(ptr)
	n := 0
	for n < maxCStringLen && *(*byte)(unsafe.Add(p, n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(p), n))
}

// GoToCstring returns a null-terminated copy of s and a pointer to its first
// byte. The caller must keep the slice alive until the native call returns.
func GoToCstring(s string) ([]byte, uintptr) {
	b := append([]byte(s), 0)
	return b, uintptr(unsafe.Pointer(&b[0]))
}

// cStringArray holds a char** built from Go strings together with the
// backing buffers it points into.
type cStringArray struct {
	ptrs []uintptr
	bufs [][]byte
}

func newCStringArray(values []string) *cStringArray {
	arr := &cStringArray{
		ptrs: make([]uintptr, len(values)),
		bufs: make([][]byte, len(values)),
	}
	for i, v := range values {
		arr.bufs[i], arr.ptrs[i] = GoToCstring(v)
	}
	return arr
}

// data returns the char** pointer, or nil for an empty array.
func (a *cStringArray) data() *uintptr {
	if a == nil || len(a.ptrs) == 0 {
		return nil
	}
	return &a.ptrs[0]
}

func (a *cStringArray) len() uintptr {
	if a == nil {
		return 0
	}
	return uintptr(len(a.ptrs))
}

// keepAlive pins the array and its buffers until after the preceding native call.
func (a *cStringArray) keepAlive() {
	runtime.KeepAlive(a)
	if a != nil {
		runtime.KeepAlive(a.ptrs)
		runtime.KeepAlive(a.bufs)
	}
}
