// Package lifecycle tracks live client instances so their resources are
// released at process exit even when the owner forgot to.
//
// Owners hold the *Handle returned by Track; the registry only keeps a
// weak pointer to it, so being registered never keeps an instance
// alive. Explicit teardown is the primary path. CleanupAll and the exit
// hook are the safety net.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/sourcegraph/conc/panics"
)

// DefaultExitTimeout bounds the CleanupAll run triggered by the exit hook.
const DefaultExitTimeout = 10 * time.Second

// CleanupFunc releases an instance's resources.
type CleanupFunc func(ctx context.Context) error

// Handle is an instance's registration. The owner keeps it reachable
// for as long as the instance lives.
type Handle struct {
	id       uint64
	name     string
	cleanup  CleanupFunc
	registry *Registry
	released atomic.Bool
}

// Name returns the label given to Track.
func (h *Handle) Name() string { return h.name }

// Release removes the handle from its registry without running the
// cleanup. Owners call it after tearing down explicitly.
func (h *Handle) Release() {
	if h.released.CompareAndSwap(false, true) {
		h.registry.remove(h.id)
	}
}

// Registry is a set of weakly held handles.
type Registry struct {
	logger *slog.Logger
	nextID atomic.Uint64

	mu      sync.Mutex
	entries map[uint64]weak.Pointer[Handle]
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger.With("component", "lifecycle"),
		entries: make(map[uint64]weak.Pointer[Handle]),
	}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(nil)
	})
	return defaultRegistry
}

// Track registers cleanup under name and returns the handle the owner
// must keep. When the handle becomes unreachable its entry is dropped.
func (r *Registry) Track(name string, cleanup CleanupFunc) *Handle {
	h := &Handle{
		id:       r.nextID.Add(1),
		name:     name,
		cleanup:  cleanup,
		registry: r,
	}

	r.mu.Lock()
	r.entries[h.id] = weak.Make(h)
	r.mu.Unlock()

	runtime.AddCleanup(h, r.remove, h.id)

	r.logger.Debug("tracking instance", "name", name, "id", h.id)
	return h
}

func (r *Registry) remove(id uint64) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// Live returns the number of registered handles still reachable.
func (r *Registry) Live() int {
	return len(r.snapshot())
}

// snapshot returns the live handles in registration order.
func (r *Registry) snapshot() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := make([]*Handle, 0, len(r.entries))
	for id, wp := range r.entries {
		h := wp.Value()
		if h == nil {
			delete(r.entries, id)
			continue
		}
		live = append(live, h)
	}
	slices.SortFunc(live, func(a, b *Handle) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return live
}

// CleanupAll runs the cleanup of every live handle, newest first. Each
// failure or panic is logged and collected; one failing instance never
// prevents the others from being cleaned up. Handles are released as
// they are processed.
func (r *Registry) CleanupAll(ctx context.Context) error {
	live := r.snapshot()
	if len(live) == 0 {
		return nil
	}
	r.logger.Info("cleaning up live instances", "count", len(live))

	var errs []error
	for _, h := range slices.Backward(live) {
		if !h.released.CompareAndSwap(false, true) {
			continue
		}
		r.remove(h.id)

		if err := runCleanup(ctx, h); err != nil {
			r.logger.Error("instance cleanup failed", "name", h.name, "id", h.id, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runCleanup(ctx context.Context, h *Handle) (err error) {
	if h.cleanup == nil {
		return nil
	}
	var pc panics.Catcher
	pc.Try(func() { err = h.cleanup(ctx) })
	if r := pc.Recovered(); r != nil {
		return fmt.Errorf("cleanup %s: %w", h.name, r.AsError())
	}
	if err != nil {
		return fmt.Errorf("cleanup %s: %w", h.name, err)
	}
	return nil
}

// ExitHook runs CleanupAll when one of signals arrives (os.Interrupt
// if none are given) or when the returned stop function is called,
// whichever happens first; it runs at most once. main defers stop so
// cleanup also happens on normal return. Each run is bounded by
// DefaultExitTimeout. The hook does not end the process; pair it with
// signal.NotifyContext so main returns on the same signal.
func (r *Registry) ExitHook(ctx context.Context, signals ...os.Signal) (stop func()) {
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)

	var once sync.Once
	run := func(reason string) {
		once.Do(func() {
			signal.Stop(sigCh)
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultExitTimeout)
			defer cancel()
			r.logger.Debug("exit hook running", "reason", reason)
			if err := r.CleanupAll(cctx); err != nil {
				r.logger.Warn("exit cleanup finished with errors", "error", err)
			}
		})
	}

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			run(sig.String())
		case <-done:
		}
	}()

	var stopOnce sync.Once
	return func() {
		stopOnce.Do(func() { close(done) })
		run("exit")
	}
}
