package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fastConfig returns a config with millisecond timings for tests.
func fastConfig(probe ProbeFunc) Config {
	return Config{
		Name:           "store",
		Probe:          probe,
		InitialDelay:   time.Millisecond,
		MaxDelay:       4 * time.Millisecond,
		StartupRetries: 5,
		Interval:       5 * time.Millisecond,
		ProbeTimeout:   100 * time.Millisecond,
	}
}

// changes records OnChange calls.
type changes struct {
	mu  sync.Mutex
	ups []bool
}

func (c *changes) record(s Status) {
	c.mu.Lock()
	c.ups = append(c.ups, s.Up)
	c.mu.Unlock()
}

func (c *changes) get() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.ups...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWatch_ImmediatelyUp(t *testing.T) {
	t.Parallel()
	var ch changes
	cfg := fastConfig(func(context.Context) error { return nil })
	cfg.OnChange = ch.record

	w := Watch(t.Context(), cfg)
	defer w.Stop()

	waitFor(t, "first probe", func() bool { return w.Status().Checks > 0 })
	if !w.Up() {
		t.Error("Up() = false after a successful probe")
	}
	waitFor(t, "polling", func() bool { return w.Status().Checks >= 3 })
	if got := ch.get(); len(got) != 1 || !got[0] {
		t.Errorf("transitions = %v, want a single [true]", got)
	}
}

func TestWatch_BackoffThenUp(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	var ch changes
	cfg := fastConfig(func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	cfg.OnChange = ch.record

	w := Watch(t.Context(), cfg)
	defer w.Stop()

	waitFor(t, "recovery", func() bool { return len(ch.get()) == 2 })
	if got := calls.Load(); got < 3 {
		t.Errorf("up after %d probes, want at least 3", got)
	}
	if got := ch.get(); len(got) != 2 || got[0] || !got[1] {
		t.Errorf("transitions = %v, want [false true]", got)
	}
	if s := w.Status(); s.LastError != "" {
		t.Errorf("LastError = %q after recovery", s.LastError)
	}
}

func TestWatch_StartupExhaustedThenPolls(t *testing.T) {
	t.Parallel()
	var healthy atomic.Bool
	cfg := fastConfig(func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("503")
	})
	cfg.StartupRetries = 2

	w := Watch(t.Context(), cfg)
	defer w.Stop()

	waitFor(t, "startup retries", func() bool { return w.Status().Checks >= 3 })
	if w.Up() {
		t.Fatal("Up() = true while the probe fails")
	}
	if s := w.Status(); s.LastError != "503" {
		t.Errorf("LastError = %q, want 503", s.LastError)
	}

	healthy.Store(true)
	waitFor(t, "poll recovery", w.Up)
}

func TestWatch_GoesDown(t *testing.T) {
	t.Parallel()
	var healthy atomic.Bool
	healthy.Store(true)
	var ch changes
	cfg := fastConfig(func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("timeout")
	})
	cfg.OnChange = ch.record

	w := Watch(t.Context(), cfg)
	defer w.Stop()

	waitFor(t, "up", w.Up)
	healthy.Store(false)
	waitFor(t, "down", func() bool { return len(ch.get()) == 2 })

	if got := ch.get(); len(got) != 2 || !got[0] || got[1] {
		t.Errorf("transitions = %v, want [true false]", got)
	}
}

func TestWatch_ProbeTimeout(t *testing.T) {
	t.Parallel()
	cfg := fastConfig(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	cfg.ProbeTimeout = 5 * time.Millisecond

	w := Watch(t.Context(), cfg)
	defer w.Stop()

	waitFor(t, "timed out probe", func() bool { return w.Status().Checks > 0 })
	if s := w.Status(); s.Up || s.LastError == "" {
		t.Errorf("status = %+v, want down with an error", s)
	}
}

func TestWatch_StopEndsGoroutine(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	w := Watch(t.Context(), fastConfig(func(context.Context) error {
		calls.Add(1)
		return nil
	}))
	waitFor(t, "first probe", func() bool { return calls.Load() > 0 })

	w.Stop()
	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != after {
		t.Error("probes continued after Stop")
	}
}

func TestWatch_Defaults(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := Watch(ctx, Config{Name: "x", Probe: func(context.Context) error { return nil }})
	w.Stop()

	if w.cfg.InitialDelay != DefaultInitialDelay || w.cfg.Interval != DefaultInterval ||
		w.cfg.StartupRetries != DefaultStartupRetries || w.cfg.ProbeTimeout != DefaultProbeTimeout {
		t.Errorf("defaults not applied: %+v", w.cfg)
	}
}

func TestWatch_PanicsOnBadConfig(t *testing.T) {
	t.Parallel()
	for name, cfg := range map[string]Config{
		"no name":  {Probe: func(context.Context) error { return nil }},
		"no probe": {Name: "x"},
	} {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("Watch did not panic")
				}
			}()
			Watch(context.Background(), cfg)
		})
	}
}
