//go:build windows

package ort

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// goStringToORTChar converts a path to the runtime's ORTCHAR_T (wchar_t on
// windows). The second return value must stay reachable until the native
// call that reads the pointer has returned.
func goStringToORTChar(s string) (uintptr, any, error) {
	wide, err := windows.UTF16FromString(s)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to convert %q to UTF-16: %w", s, err)
	}
	// #nosec G103 -- wide is kept alive by the caller for the duration of the call.
	return uintptr(unsafe.Pointer(unsafe.SliceData(wide))), wide, nil
}
