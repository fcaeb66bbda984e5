package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/TaskForge/internal/port/processhost"
)

// fakeSession is a session whose callbacks the test drives.
type fakeSession struct {
	id   string
	args []string
	cb   processhost.Callbacks

	mu      sync.Mutex
	stopped bool
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Stop() {
	s.mu.Lock()
	already := s.stopped
	s.stopped = true
	s.mu.Unlock()
	if !already {
		s.cb.OnExit(true)
	}
}

// fakeHost records every started session.
type fakeHost struct {
	// onStart runs inside Start, before the session is returned.
	onStart func(*fakeSession)

	mu       sync.Mutex
	sessions []*fakeSession
	started  chan *fakeSession
}

func newFakeHost() *fakeHost {
	return &fakeHost{started: make(chan *fakeSession, 16)}
}

func (h *fakeHost) Start(args []string, cb processhost.Callbacks) processhost.Session {
	h.mu.Lock()
	s := &fakeSession{id: fmt.Sprintf("session-%d", len(h.sessions)+1), args: args, cb: cb}
	h.sessions = append(h.sessions, s)
	h.mu.Unlock()
	if h.onStart != nil {
		h.onStart(s)
	}
	h.started <- s
	return s
}

func (h *fakeHost) next(t *testing.T) *fakeSession {
	t.Helper()
	select {
	case s := <-h.started:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a session to start")
		return nil
	}
}

type broadcastEvent struct {
	eventType string
	payload   any
}

// fakeBroadcaster records broadcast events.
type fakeBroadcaster struct {
	mu     sync.Mutex
	events []broadcastEvent
}

func (b *fakeBroadcaster) BroadcastEvent(_ context.Context, eventType string, payload any) {
	b.mu.Lock()
	b.events = append(b.events, broadcastEvent{eventType, payload})
	b.mu.Unlock()
}

func (b *fakeBroadcaster) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, e := range b.events {
		out[i] = e.eventType
	}
	return out
}

func (b *fakeBroadcaster) ofType(eventType string) []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []any
	for _, e := range b.events {
		if e.eventType == eventType {
			out = append(out, e.payload)
		}
	}
	return out
}
