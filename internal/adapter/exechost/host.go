// Package exechost implements the processhost port with os/exec.
package exechost

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/TaskForge/internal/port/processhost"
)

// Options configures a Host.
type Options struct {
	// WorkDir is the working directory of every invocation ("" = inherit).
	WorkDir string

	// Env is appended to the parent environment.
	Env []string

	// MaxConcurrent limits running invocations; further sessions wait for a
	// slot. Values below 1 mean unlimited.
	MaxConcurrent int

	// StopGrace is how long a stopped process may take to exit after the
	// interrupt before it is killed.
	StopGrace time.Duration
}

// Host starts invocations as child processes and tracks them by session id.
type Host struct {
	opts Options
	sem  *semaphore.Weighted

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool
}

var _ processhost.Host = (*Host)(nil)

// New creates a Host.
func New(opts Options) *Host {
	if opts.StopGrace <= 0 {
		opts.StopGrace = 5 * time.Second
	}
	h := &Host{
		opts:     opts,
		sessions: make(map[string]*session),
	}
	if opts.MaxConcurrent > 0 {
		h.sem = semaphore.NewWeighted(int64(opts.MaxConcurrent))
	}
	return h
}

// Start launches args in the background and returns its session.
func (h *Host) Start(args []string, cb processhost.Callbacks) processhost.Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:     uuid.NewString(),
		args:   slices.Clone(args),
		host:   h,
		cancel: cancel,
	}

	cb = withDefaults(cb)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.stopped.Store(true)
		cancel()
		slog.Debug("process session refused, host closed", "event_id", s.id, "command", firstArg(args))
		go cb.OnExit(true)
		return s
	}
	h.sessions[s.id] = s
	h.mu.Unlock()

	slog.Debug("process session created", "event_id", s.id, "command", firstArg(args))
	go s.run(ctx, cb)
	return s
}

// Get returns the running session with the given id.
func (h *Host) Get(id string) (processhost.Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Active returns the ids of all sessions that have not terminated.
func (h *Host) Active() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// StopAll stops every running session.
func (h *Host) StopAll() {
	h.mu.RLock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.Stop()
	}
}

// Close stops every running session. Sessions started afterwards launch
// nothing and report a stopped exit, so a chain cannot advance past its
// current stage.
func (h *Host) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.StopAll()
}

func (h *Host) acquire(ctx context.Context) error {
	if h.sem == nil {
		return nil
	}
	return h.sem.Acquire(ctx, 1)
}

func (h *Host) release() {
	if h.sem != nil {
		h.sem.Release(1)
	}
}

func (h *Host) forget(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

func withDefaults(cb processhost.Callbacks) processhost.Callbacks {
	if cb.OnOutput == nil {
		cb.OnOutput = func(string) {}
	}
	if cb.OnExit == nil {
		cb.OnExit = func(bool) {}
	}
	if cb.OnError == nil {
		cb.OnError = func(string) {}
	}
	return cb
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
