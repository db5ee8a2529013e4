package ort

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestHandleReleaseRunsOnce(t *testing.T) {
	var released atomic.Int32
	h := newHandle("widget", 42, func(ptr uintptr) error {
		if ptr != 42 {
			t.Errorf("release got %d, want 42", ptr)
		}
		released.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Release()
		}()
	}
	wg.Wait()

	if n := released.Load(); n != 1 {
		t.Fatalf("release ran %d times, want 1", n)
	}
	if !h.Disposed() {
		t.Fatal("handle not marked released")
	}
}

func TestHandleUseAfterRelease(t *testing.T) {
	h := newHandle("widget", 7, nil)
	if err := h.use(func(ptr uintptr) error { return nil }); err != nil {
		t.Fatalf("use before release: %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatal(err)
	}

	err := h.use(func(uintptr) error {
		t.Fatal("callback ran on a released handle")
		return nil
	})
	if !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
}

func TestHandleZeroPointerIsDisposed(t *testing.T) {
	h := newHandle("widget", 0, nil)
	if err := h.use(func(uintptr) error { return nil }); !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected ErrDisposed for a null handle, got %v", err)
	}
}

func TestHandleReleaseWaitsForInFlightUse(t *testing.T) {
	var releasedAt, usedUntil atomic.Int64
	h := newHandle("widget", 1, func(uintptr) error {
		releasedAt.Store(time.Now().UnixNano())
		return nil
	})

	entered := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.use(func(uintptr) error {
			close(entered)
			time.Sleep(30 * time.Millisecond)
			usedUntil.Store(time.Now().UnixNano())
			return nil
		})
	}()

	<-entered
	if err := h.Release(); err != nil {
		t.Fatal(err)
	}
	<-done
	if releasedAt.Load() < usedUntil.Load() {
		t.Fatal("handle released while a native call was still using it")
	}
}

func TestReleaseAllJoinsErrors(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")
	var order []string
	mk := func(name string, err error) Releaser {
		h := newHandle(name, 1, func(uintptr) error {
			order = append(order, name)
			return err
		})
		return &h
	}

	err := ReleaseAll(mk("a", first), nil, mk("b", nil), mk("c", second))
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Fatalf("expected both errors joined, got %v", err)
	}
	if got := len(order); got != 3 || order[0] != "a" || order[2] != "c" {
		t.Fatalf("released in order %v", order)
	}
}
