//go:build !windows

package ort

// goStringToORTChar converts a path to the runtime's ORTCHAR_T (char on
// unix). The second return value must stay reachable until the native call
// that reads the pointer has returned.
func goStringToORTChar(s string) (uintptr, any, error) {
	buf, ptr := GoToCstring(s)
	return ptr, buf, nil
}
