package ort

import "strings"

// libraryCandidates lists common install locations checked when no explicit
// path is configured.
func libraryCandidates(goos string) []string {
	switch goos {
	case "darwin":
		return []string{
			"/opt/homebrew/lib/libonnxruntime.dylib",
			"/usr/local/lib/libonnxruntime.dylib",
			"./third_party/onnxruntime/lib/libonnxruntime.dylib",
		}
	case "linux":
		return []string{
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
			"/usr/lib/aarch64-linux-gnu/libonnxruntime.so",
			"./third_party/onnxruntime/lib/libonnxruntime.so",
		}
	case "windows":
		return []string{
			"onnxruntime.dll",
			"./third_party/onnxruntime/lib/onnxruntime.dll",
			`C:\Program Files\ONNXRuntime\lib\onnxruntime.dll`,
		}
	default:
		return nil
	}
}

// discoverLibraryPath returns the first candidate that exists as a regular,
// non-empty file. Bare file names are skipped; they only make sense to the
// platform loader.
func discoverLibraryPath(goos string) (string, bool) {
	for _, candidate := range libraryCandidates(goos) {
		if !strings.ContainsAny(candidate, `/\`) {
			continue
		}
		if path, err := validateLibraryFile(candidate); err == nil {
			return path, true
		}
	}
	return "", false
}
