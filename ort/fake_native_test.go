package ort

import (
	"testing"

	"go.uber.org/zap/zaptest"
)

func newTestRuntime(t *testing.T, fake *fakeNative) *Runtime {
	t.Helper()
	rt := newRuntime(fake.api(), RuntimeConfig{}, zaptest.NewLogger(t))
	rt.version = "1.23.1"
	rt.apiVersion = DefaultAPIVersion
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}
