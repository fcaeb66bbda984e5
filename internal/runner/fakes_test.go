package runner_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/TaskForge/internal/domain/download"
	"github.com/Strob0t/TaskForge/internal/port/downloader"
	"github.com/Strob0t/TaskForge/internal/port/eventfeed"
	"github.com/Strob0t/TaskForge/internal/port/fsprobe"
	"github.com/Strob0t/TaskForge/internal/port/processhost"
	"github.com/Strob0t/TaskForge/internal/runner"
)

var (
	_ processhost.Host   = (*fakeHost)(nil)
	_ eventfeed.Feed     = (*fakeFeed)(nil)
	_ downloader.Manager = (*fakeManager)(nil)
	_ fsprobe.Probe      = (*fakeProbe)(nil)
)

// --- process host ---

type fakeSession struct {
	id    string
	args  []string
	cb    processhost.Callbacks
	stops atomic.Int32
	host  *fakeHost
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Stop() {
	s.stops.Add(1)
	if s.host.exitOnStop {
		s.cb.OnExit(true)
	}
}

type fakeHost struct {
	exitOnStop bool

	mu       sync.Mutex
	sessions []*fakeSession
	started  chan *fakeSession
}

func newFakeHost() *fakeHost {
	return &fakeHost{exitOnStop: true, started: make(chan *fakeSession, 16)}
}

func (h *fakeHost) Start(args []string, cb processhost.Callbacks) processhost.Session {
	h.mu.Lock()
	s := &fakeSession{id: fmt.Sprintf("session-%d", len(h.sessions)+1), args: args, cb: cb, host: h}
	h.sessions = append(h.sessions, s)
	h.mu.Unlock()
	h.started <- s
	return s
}

func (h *fakeHost) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// next waits for the next started session.
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

// assertNoStart fails if a session starts within a short window.
func (h *fakeHost) assertNoStart(t *testing.T) {
	t.Helper()
	select {
	case s := <-h.started:
		t.Fatalf("unexpected session started: %v", s.args)
	case <-time.After(50 * time.Millisecond):
	}
}

// --- output sink ---

type lines struct {
	mu  sync.Mutex
	got []string
}

func (l *lines) add(line string) {
	l.mu.Lock()
	l.got = append(l.got, line)
	l.mu.Unlock()
}

func (l *lines) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.got...)
}

// --- event feed ---

type fakeSub struct {
	h      eventfeed.Handler
	active bool
}

type fakeFeed struct {
	mu   sync.Mutex
	subs map[string][]*fakeSub
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subs: make(map[string][]*fakeSub)}
}

func (f *fakeFeed) Publish(_ context.Context, channel string, data []byte) error {
	f.mu.Lock()
	subs := append([]*fakeSub(nil), f.subs[channel]...)
	f.mu.Unlock()
	for _, s := range subs {
		f.mu.Lock()
		active := s.active
		f.mu.Unlock()
		if active {
			s.h(data)
		}
	}
	return nil
}

func (f *fakeFeed) Subscribe(channel string, h eventfeed.Handler) (func(), error) {
	s := &fakeSub{h: h, active: true}
	f.mu.Lock()
	f.subs[channel] = append(f.subs[channel], s)
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		s.active = false
		f.mu.Unlock()
	}, nil
}

func (f *fakeFeed) activeSubscribers(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subs[channel] {
		if s.active {
			n++
		}
	}
	return n
}

func (f *fakeFeed) publishList(t *testing.T, list ...download.Status) {
	t.Helper()
	data, err := json.Marshal(list)
	if err != nil {
		t.Fatal(err)
	}
	_ = f.Publish(context.Background(), eventfeed.ChannelDownloadList, data)
}

// --- download manager ---

type fakeManager struct {
	addErr error

	mu     sync.Mutex
	added  []string
	paused []string
}

func (m *fakeManager) Add(_ context.Context, path, url string) error {
	if m.addErr != nil {
		return m.addErr
	}
	m.mu.Lock()
	m.added = append(m.added, path+"|"+url)
	m.mu.Unlock()
	return nil
}

func (m *fakeManager) Pause(url string) {
	m.mu.Lock()
	m.paused = append(m.paused, url)
	m.mu.Unlock()
}

func (m *fakeManager) List() []download.Status { return nil }

func (m *fakeManager) pausedURLs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.paused...)
}

// --- file-system probe ---

type fakeProbe struct {
	absErr error
}

func (p *fakeProbe) Exists(string) bool { return true }

func (p *fakeProbe) AbsPath(path string) (string, error) {
	if p.absErr != nil {
		return "", p.absErr
	}
	return "/abs/" + path, nil
}

func (p *fakeProbe) ReadFileInfo(string) (*fsprobe.Info, error)  { return nil, errors.New("unused") }
func (p *fakeProbe) ListDir(string, bool) ([]fsprobe.Entry, error) { return nil, errors.New("unused") }
func (p *fakeProbe) ReadFile(string) ([]byte, error)               { return nil, errors.New("unused") }
func (p *fakeProbe) WriteFile(string, []byte) error                { return errors.New("unused") }
func (p *fakeProbe) ChangeFileLine(string, int, string) error      { return errors.New("unused") }

// wait waits for task to settle, failing the test after a timeout.
func wait(t *testing.T, task *runner.Task) (bool, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	continued, err := task.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("timed out waiting for task to settle")
	}
	return continued, err
}

// waitFor polls cond until it holds or a timeout expires.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(time.Millisecond)
	}
}
