//go:build !windows

package ort

import (
	"fmt"

	"github.com/ebitengine/purego"
)

func loadLibrary(path string) (uintptr, error) {
	lib, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return 0, err
	}
	if lib == 0 {
		return 0, fmt.Errorf("dlopen returned a nil handle for %q", path)
	}
	return lib, nil
}

func getSymbol(lib uintptr, symbol string) (uintptr, error) {
	return purego.Dlsym(lib, symbol)
}

func closeLibrary(lib uintptr) error {
	if lib == 0 {
		return nil
	}
	return purego.Dlclose(lib)
}
