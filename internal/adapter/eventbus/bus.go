// Package eventbus implements the in-process event feed.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/Strob0t/TaskForge/internal/port/cache"
	"github.com/Strob0t/TaskForge/internal/port/eventfeed"
)

const keyPrefix = "feed:"

type subscriber struct {
	id      uint64
	handler eventfeed.Handler
}

// Bus delivers published payloads synchronously to the channel's subscribers
// and remembers the last payload of every channel.
type Bus struct {
	last cache.Cache

	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]subscriber
}

var (
	_ eventfeed.Feed        = (*Bus)(nil)
	_ eventfeed.Snapshotter = (*Bus)(nil)
)

// New creates a Bus. last may be nil, in which case Last always misses.
func New(last cache.Cache) *Bus {
	return &Bus{
		last: last,
		subs: make(map[string][]subscriber),
	}
}

// Publish stores data as the channel's last payload and hands it to every
// current subscriber. Handlers run on the caller's goroutine; an empty
// payload reaches them as nil.
func (b *Bus) Publish(ctx context.Context, channel string, data []byte) error {
	if channel == "" {
		return fmt.Errorf("publish: empty channel")
	}
	if len(data) == 0 {
		data = nil
	}
	if b.last != nil {
		if err := b.last.Set(ctx, keyPrefix+channel, slices.Clone(data), 0); err != nil {
			slog.Warn("feed snapshot not cached", "channel", channel, "error", err)
		}
	}

	b.mu.RLock()
	subs := slices.Clone(b.subs[channel])
	b.mu.RUnlock()

	for _, s := range subs {
		if !b.active(channel, s.id) {
			continue
		}
		s.handler(data)
	}
	return nil
}

// Subscribe registers h for channel. The returned function removes it and
// may be called from inside h.
func (b *Bus) Subscribe(channel string, h eventfeed.Handler) (func(), error) {
	if channel == "" {
		return nil, fmt.Errorf("subscribe: empty channel")
	}
	if h == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", channel)
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[channel] = append(b.subs[channel], subscriber{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(channel, id) })
	}, nil
}

// Last returns the most recent payload published on channel. An empty
// payload is reported as nil.
func (b *Bus) Last(ctx context.Context, channel string) ([]byte, bool) {
	if b.last == nil {
		return nil, false
	}
	data, ok, err := b.last.Get(ctx, keyPrefix+channel)
	if err != nil || !ok {
		return nil, false
	}
	if len(data) == 0 {
		return nil, true
	}
	return data, true
}

// Subscribers reports how many handlers are registered on channel.
func (b *Bus) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

func (b *Bus) active(channel string, id uint64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.ContainsFunc(b.subs[channel], func(s subscriber) bool { return s.id == id })
}

func (b *Bus) remove(channel string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := slices.DeleteFunc(slices.Clone(b.subs[channel]), func(s subscriber) bool { return s.id == id })
	if len(subs) == 0 {
		delete(b.subs, channel)
		return
	}
	b.subs[channel] = subs
}
