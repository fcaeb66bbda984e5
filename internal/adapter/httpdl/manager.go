// Package httpdl implements the download manager port over HTTP.
package httpdl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/Strob0t/TaskForge/internal/domain"
	"github.com/Strob0t/TaskForge/internal/domain/download"
	"github.com/Strob0t/TaskForge/internal/port/downloader"
	"github.com/Strob0t/TaskForge/internal/port/eventfeed"
	"github.com/Strob0t/TaskForge/internal/port/fsprobe"
	"github.com/Strob0t/TaskForge/internal/resilience"
)

// Options configures a Manager.
type Options struct {
	// Client performs the transfers. Defaults to a client without timeout;
	// transfers are bounded by Pause and Close instead.
	Client HTTPDoer

	// PublishInterval is how often the list is re-published while something
	// is transferring.
	PublishInterval time.Duration

	// Breakers guards requests per host. Nil disables circuit breaking.
	Breakers *resilience.Registry

	UserAgent string
}

type entry struct {
	status download.Status
	cancel context.CancelFunc
	done   chan struct{} // closed when the transfer goroutine exits
}

// Manager downloads files in the background and publishes the complete
// status list on the download-list channel after every change.
type Manager struct {
	feed  eventfeed.Feed
	paths fsprobe.Probe
	opts  Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	dirty  chan struct{}

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
}

var _ downloader.Manager = (*Manager)(nil)

// New creates a Manager and starts its publisher.
func New(feed eventfeed.Feed, paths fsprobe.Probe, opts Options) *Manager {
	if opts.Client == nil {
		opts.Client = defaultClient()
	}
	if opts.PublishInterval <= 0 {
		opts.PublishInterval = 500 * time.Millisecond
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "TaskForge"
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		feed:    feed,
		paths:   paths,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		dirty:   make(chan struct{}, 1),
		entries: make(map[string]*entry),
	}

	m.wg.Add(1)
	go m.publishLoop()
	return m
}

// Add starts fetching rawURL into path, resuming a partial file when the
// server supports ranges. Adding a transfer that is already running is a
// no-op.
func (m *Manager) Add(_ context.Context, path, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: unsupported download url %q", domain.ErrValidation, rawURL)
	}
	if path == "" {
		return fmt.Errorf("%w: download path is required", domain.ErrValidation)
	}
	absPath, err := m.paths.AbsPath(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	if m.ctx.Err() != nil {
		return errors.New("download manager closed")
	}

	m.mu.Lock()
	prev, exists := m.entries[rawURL]
	if exists && prev.status.Downloading {
		m.mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(m.ctx)
	e := &entry{
		status: download.Status{
			Name:        filepath.Base(absPath),
			Path:        absPath,
			URL:         rawURL,
			Downloading: true,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	var prevDone <-chan struct{}
	if exists {
		prevDone = prev.done
		e.status.Size = prev.status.Size
		e.status.Transferred = prev.status.Transferred
		e.status.Progress = prev.status.Progress
	} else {
		m.order = append(m.order, rawURL)
	}
	m.entries[rawURL] = e
	m.mu.Unlock()

	slog.Info("download added", "url", rawURL, "path", absPath)
	m.wg.Add(1)
	go m.run(ctx, e, u.Host, prevDone)
	m.markDirty()
	return nil
}

// Pause cancels the transfer of rawURL and keeps the partial file.
func (m *Manager) Pause(rawURL string) {
	m.mu.Lock()
	e, ok := m.entries[rawURL]
	if !ok || !e.status.Downloading {
		m.mu.Unlock()
		return
	}
	e.status.Downloading = false
	e.cancel()
	m.mu.Unlock()

	slog.Info("download paused", "url", rawURL)
	m.markDirty()
}

// List returns the status of every transfer in the order they were added.
func (m *Manager) List() []download.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := make([]download.Status, 0, len(m.order))
	for _, u := range m.order {
		list = append(list, m.entries[u].status)
	}
	return list
}

// Close cancels all transfers and stops the publisher.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context, e *entry, host string, prevDone <-chan struct{}) {
	defer m.wg.Done()
	defer close(e.done)

	if prevDone != nil {
		select {
		case <-prevDone:
		case <-ctx.Done():
			return
		}
	}

	fetch := func(ctx context.Context) error { return m.transfer(ctx, e) }
	var err error
	if m.opts.Breakers != nil {
		err = m.opts.Breakers.For(host).Execute(ctx, fetch)
	} else {
		err = fetch(ctx)
	}

	m.mu.Lock()
	switch {
	case err == nil:
		e.status.Downloading = false
		e.status.Done = true
		e.status.Progress = 100
		if e.status.Size == 0 {
			e.status.Size = e.status.Transferred
		}
		slog.Info("download finished", "url", e.status.URL, "path", e.status.Path, "bytes", e.status.Transferred)
	case ctx.Err() != nil:
		e.status.Downloading = false
	default:
		e.status.Downloading = false
		e.status.Error = err.Error()
		slog.Warn("download failed", "url", e.status.URL, "error", err)
	}
	m.mu.Unlock()
	m.markDirty()
}

// progress records the transfer state of e.
func (m *Manager) progress(e *entry, size, transferred int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.status.Size = size
	e.status.Transferred = transferred
	if size > 0 {
		e.status.Progress = float64(transferred) / float64(size) * 100
	} else {
		e.status.Progress = 0
	}
}

func (m *Manager) markDirty() {
	select {
	case m.dirty <- struct{}{}:
	default:
	}
}

// publishLoop is the only goroutine that publishes, so snapshots reach
// subscribers in the order they were taken.
func (m *Manager) publishLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.PublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.dirty:
			m.publish()
		case <-ticker.C:
			if m.anyDownloading() {
				m.publish()
			}
		}
	}
}

func (m *Manager) publish() {
	data, err := download.EncodeList(m.List())
	if err != nil {
		slog.Error("encode download list", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
	defer cancel()
	if err := m.feed.Publish(ctx, eventfeed.ChannelDownloadList, data); err != nil {
		slog.Warn("publish download list", "error", err)
	}
}

func (m *Manager) anyDownloading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.status.Downloading {
			return true
		}
	}
	return false
}
