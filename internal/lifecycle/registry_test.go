package lifecycle

import (
	"context"
	"errors"
	"runtime"
	"slices"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

// instance stands in for a client: it owns its handle.
type instance struct {
	handle *Handle
	closed bool
}

func track(r *Registry, name string, calls *[]string, mu *sync.Mutex, fail error) *instance {
	inst := &instance{}
	inst.handle = r.Track(name, func(context.Context) error {
		mu.Lock()
		*calls = append(*calls, name)
		mu.Unlock()
		inst.closed = true
		return fail
	})
	return inst
}

func TestCleanupAll_ContinuesPastFailure(t *testing.T) {
	r := NewRegistry(nil)
	var (
		mu    sync.Mutex
		calls []string
	)
	a := track(r, "a", &calls, &mu, nil)
	b := track(r, "b", &calls, &mu, errors.New("channel already gone"))
	c := track(r, "c", &calls, &mu, nil)

	err := r.CleanupAll(t.Context())
	if err == nil || !strings.Contains(err.Error(), "cleanup b: channel already gone") {
		t.Fatalf("CleanupAll = %v, want the failure of b", err)
	}

	slices.Sort(calls)
	if !slices.Equal(calls, []string{"a", "b", "c"}) {
		t.Errorf("cleanups run = %v, want all three", calls)
	}
	if !a.closed || !c.closed {
		t.Error("healthy instances were not closed")
	}
	if r.Live() != 0 {
		t.Errorf("Live() = %d after CleanupAll, want 0", r.Live())
	}
	runtime.KeepAlive(b)
}

func TestCleanupAll_NewestFirst(t *testing.T) {
	r := NewRegistry(nil)
	var (
		mu    sync.Mutex
		calls []string
	)
	first := track(r, "first", &calls, &mu, nil)
	second := track(r, "second", &calls, &mu, nil)

	if err := r.CleanupAll(t.Context()); err != nil {
		t.Fatalf("CleanupAll: %v", err)
	}
	if !slices.Equal(calls, []string{"second", "first"}) {
		t.Errorf("order = %v, want newest first", calls)
	}
	runtime.KeepAlive(first)
	runtime.KeepAlive(second)
}

func TestCleanupAll_RecoversPanic(t *testing.T) {
	r := NewRegistry(nil)
	ran := false
	h1 := r.Track("panics", func(context.Context) error { panic("boom") })
	h2 := r.Track("fine", func(context.Context) error { ran = true; return nil })

	err := r.CleanupAll(t.Context())
	if err == nil {
		t.Fatal("CleanupAll should report the panic")
	}
	if !ran {
		t.Error("cleanup after the panicking one did not run")
	}
	runtime.KeepAlive(h1)
	runtime.KeepAlive(h2)
}

func TestCleanupAll_Empty(t *testing.T) {
	if err := NewRegistry(nil).CleanupAll(t.Context()); err != nil {
		t.Errorf("CleanupAll on empty registry = %v", err)
	}
}

func TestRelease_SkipsCleanup(t *testing.T) {
	r := NewRegistry(nil)
	ran := false
	h := r.Track("released", func(context.Context) error { ran = true; return nil })

	h.Release()
	h.Release()
	if r.Live() != 0 {
		t.Errorf("Live() = %d after Release, want 0", r.Live())
	}
	if err := r.CleanupAll(t.Context()); err != nil {
		t.Fatalf("CleanupAll: %v", err)
	}
	if ran {
		t.Error("released handle was cleaned up")
	}
}

func TestRegistry_DoesNotKeepInstancesAlive(t *testing.T) {
	r := NewRegistry(nil)
	func() {
		for i := 0; i < 3; i++ {
			r.Track("garbage", func(context.Context) error { return nil })
		}
	}()
	kept := r.Track("kept", func(context.Context) error { return nil })

	deadline := time.Now().Add(5 * time.Second)
	for r.Live() != 1 && time.Now().Before(deadline) {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
	if got := r.Live(); got != 1 {
		t.Errorf("Live() = %d after GC, want 1", got)
	}
	if kept.Name() != "kept" {
		t.Errorf("Name() = %q", kept.Name())
	}
	runtime.KeepAlive(kept)
}

func TestExitHook_StopRunsOnce(t *testing.T) {
	r := NewRegistry(nil)
	count := 0
	h := r.Track("x", func(context.Context) error { count++; return nil })

	stop := r.ExitHook(t.Context(), syscall.SIGUSR1)
	stop()
	stop()

	if count != 1 {
		t.Errorf("cleanup ran %d times, want 1", count)
	}
	runtime.KeepAlive(h)
}

func TestExitHook_Signal(t *testing.T) {
	r := NewRegistry(nil)
	done := make(chan struct{})
	h := r.Track("x", func(context.Context) error { close(done); return nil })

	stop := r.ExitHook(t.Context(), syscall.SIGUSR1)
	defer stop()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("exit hook did not run on signal")
	}
	runtime.KeepAlive(h)
}

func TestExitHook_SwallowsErrors(t *testing.T) {
	r := NewRegistry(nil)
	h := r.Track("bad", func(context.Context) error { return errors.New("nope") })
	stop := r.ExitHook(t.Context(), syscall.SIGUSR1)
	stop() // must not panic
	runtime.KeepAlive(h)
}

func TestDefault_IsShared(t *testing.T) {
	if Default() != Default() {
		t.Error("Default() returned different registries")
	}
}
