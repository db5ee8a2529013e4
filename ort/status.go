package ort

// check translates an OrtStatus pointer into a Go error. A zero status is
// success. A non-zero status is always released, including when reading its
// message fails part way.
func (a *apiFuncs) check(op string, status uintptr) error {
	if status == 0 {
		return nil
	}
	defer a.releaseStatus(status)

	nativeErr := &NativeError{Op: op, Code: ErrorCodeFail}
	if a.getErrorCode != nil {
		nativeErr.Code = ErrorCode(a.getErrorCode(status))
	}
	if a.getErrorMessage != nil {
		nativeErr.Message = CstringToGo(a.getErrorMessage(status))
	}
	if nativeErr.Message == "" {
		nativeErr.Message = "unknown error"
	}
	return nativeErr
}
