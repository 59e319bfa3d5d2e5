// Package tasks tracks long-running background goroutines by name.
//
// Subsystems that run for the life of the process (chat feed, queue janitor)
// are spawned through a Tracker so shutdown can cancel them as a group and
// wait for them to drain, and so a panic inside one task is logged with a
// stack trace instead of taking down the whole process.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"
)

// Tracker owns a shared context for background tasks and waits for them on
// shutdown. Tasks register by name so stragglers can be reported.
type Tracker struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]int
}

// NewTracker creates a tracker whose tasks share one cancellable context.
func NewTracker(logger *slog.Logger) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("component", "tasks"),
		active: make(map[string]int),
	}
}

// Spawn runs fn in a tracked goroutine. The context passed to fn is cancelled
// when Shutdown is called. A panic inside fn is recovered and logged, never
// propagated.
func (t *Tracker) Spawn(name string, fn func(ctx context.Context)) {
	t.mu.Lock()
	t.active[name]++
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			t.mu.Lock()
			t.active[name]--
			if t.active[name] <= 0 {
				delete(t.active, name)
			}
			t.mu.Unlock()

			if r := recover(); r != nil {
				t.logger.Error("background task panicked",
					"task", name,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				return
			}
			if t.ctx.Err() != nil {
				t.logger.Info("background task cancelled", "task", name)
			} else {
				t.logger.Info("background task finished", "task", name)
			}
		}()

		fn(t.ctx)
	}()
}

// Names returns the names of tasks still running, sorted.
func (t *Tracker) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.active))
	for name := range t.active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Shutdown cancels all tasks and waits up to timeout for them to stop.
// Tasks still running past the deadline are named in the returned error.
func (t *Tracker) Shutdown(timeout time.Duration) error {
	t.cancel()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("background tasks still running after %v: %s",
			timeout, strings.Join(t.Names(), ", "))
	}
}
