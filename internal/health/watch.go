// Package health watches an external dependency and reports when it
// becomes unreachable or recovers.
//
// A [Watcher] probes in two phases. At startup it retries with
// exponential backoff until the first success or until the startup
// retries run out. After that it polls at a fixed interval and logs
// (and reports through OnChange) every transition between up and down.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ProbeFunc checks a dependency. A nil error means healthy.
type ProbeFunc func(ctx context.Context) error

// Defaults applied to zero Config fields.
const (
	DefaultInitialDelay   = 2 * time.Second
	DefaultMaxDelay       = 60 * time.Second
	DefaultStartupRetries = 5
	DefaultInterval       = 5 * time.Minute
	DefaultProbeTimeout   = 10 * time.Second
)

// Config configures a Watcher.
type Config struct {
	// Name labels the dependency in logs and status.
	Name  string
	Probe ProbeFunc

	// InitialDelay doubles after each failed startup probe, up to
	// MaxDelay, for at most StartupRetries attempts.
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	StartupRetries int

	// Interval is the polling period once startup is over.
	Interval     time.Duration
	ProbeTimeout time.Duration

	// OnChange runs after each up/down transition, including the first
	// probe result. It runs on the watcher goroutine and must not block.
	OnChange func(Status)

	Logger *slog.Logger
}

// Status is a snapshot of the dependency's health.
type Status struct {
	Name      string    `json:"name"`
	Up        bool      `json:"up"`
	Checks    int       `json:"checks"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher probes one dependency until its context ends or Stop is
// called.
type Watcher struct {
	cfg    Config
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status Status
	known  bool // a probe has completed
}

// Watch starts a watcher goroutine for cfg.
func Watch(ctx context.Context, cfg Config) *Watcher {
	if cfg.Name == "" {
		panic("health: Config.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("health: Config.Probe must not be nil")
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.StartupRetries <= 0 {
		cfg.StartupRetries = DefaultStartupRetries
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		cfg:    cfg,
		logger: logger.With("component", "health", "dependency", cfg.Name),
		cancel: cancel,
		done:   make(chan struct{}),
		status: Status{Name: cfg.Name},
	}
	go w.run(ctx)
	return w
}

// Up reports whether the last probe succeeded.
func (w *Watcher) Up() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status.Up
}

// Status returns the current snapshot.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Stop ends the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	delay := w.cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		if w.check(ctx) {
			break
		}
		if attempt >= w.cfg.StartupRetries {
			w.logger.Warn("dependency still down after startup retries, polling",
				"attempts", attempt,
				"interval", w.cfg.Interval,
			)
			break
		}
		if !sleep(ctx, delay) {
			return
		}
		delay = min(delay*2, w.cfg.MaxDelay)
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

// check runs one probe, records it and reports a transition. It
// returns whether the dependency is up.
func (w *Watcher) check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, w.cfg.ProbeTimeout)
	err := w.cfg.Probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return false
	}

	w.mu.Lock()
	wasUp, known := w.status.Up, w.known
	w.known = true
	w.status.Up = err == nil
	w.status.Checks++
	w.status.LastCheck = time.Now()
	w.status.LastError = ""
	if err != nil {
		w.status.LastError = err.Error()
	}
	snap := w.status
	w.mu.Unlock()

	changed := !known || wasUp != snap.Up
	switch {
	case err == nil && changed:
		w.logger.Info("dependency up", "checks", snap.Checks)
	case err != nil && changed:
		w.logger.Warn("dependency down", "error", err)
	case err != nil:
		w.logger.Debug("dependency still down", "error", err)
	}
	if changed && w.cfg.OnChange != nil {
		w.cfg.OnChange(snap)
	}
	return snap.Up
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
