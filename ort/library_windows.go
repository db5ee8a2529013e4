//go:build windows

package ort

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func loadLibrary(path string) (uintptr, error) {
	lib, err := windows.LoadLibrary(path)
	if err != nil {
		return 0, err
	}
	if lib == 0 {
		return 0, fmt.Errorf("LoadLibrary returned a nil handle for %q", path)
	}
	return uintptr(lib), nil
}

func getSymbol(lib uintptr, symbol string) (uintptr, error) {
	return windows.GetProcAddress(windows.Handle(lib), symbol)
}

func closeLibrary(lib uintptr) error {
	if lib == 0 {
		return nil
	}
	return windows.FreeLibrary(windows.Handle(lib))
}
