// Package nats implements the event feed port over NATS, with a JetStream
// KV bucket for snapshots shared between processes.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/TaskForge/internal/port/cache"
	"github.com/Strob0t/TaskForge/internal/port/eventfeed"
)

const (
	subjectPrefix = "feed."

	// SnapshotBucket holds the last payload of every channel.
	SnapshotBucket = "TASKFORGE_FEED"

	keyPrefix = "feed:"
)

// Conn is a NATS connection with JetStream enabled.
type Conn struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect dials NATS and initialises JetStream.
func Connect(url, name string) (*Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	slog.Info("nats connected", "url", url)
	return &Conn{nc: nc, js: js}, nil
}

// SnapshotKV returns the snapshot bucket, creating it when missing. Entries
// older than ttl are removed by the server (0 = never).
func (c *Conn) SnapshotKV(ctx context.Context, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := c.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      SnapshotBucket,
		Description: "last payload per feed channel",
		History:     1,
		TTL:         ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("kv bucket %s: %w", SnapshotBucket, err)
	}
	return kv, nil
}

// IsConnected reports whether the connection is currently up.
func (c *Conn) IsConnected() bool {
	return c.nc.IsConnected()
}

// Drain flushes pending messages and closes the connection.
func (c *Conn) Drain() error {
	return c.nc.Drain()
}

// Close closes the connection immediately.
func (c *Conn) Close() {
	c.nc.Close()
}

// Feed publishes channel payloads on feed.<channel> subjects.
type Feed struct {
	conn *Conn
	last cache.Cache
}

var (
	_ eventfeed.Feed        = (*Feed)(nil)
	_ eventfeed.Snapshotter = (*Feed)(nil)
)

// NewFeed creates a feed on conn. last stores snapshots and may be nil.
func NewFeed(conn *Conn, last cache.Cache) *Feed {
	return &Feed{conn: conn, last: last}
}

// Publish sends data to every subscriber of channel in any connected process.
func (f *Feed) Publish(ctx context.Context, channel string, data []byte) error {
	if channel == "" {
		return fmt.Errorf("publish: empty channel")
	}
	if f.last != nil {
		if err := f.last.Set(ctx, keyPrefix+channel, data, 0); err != nil {
			slog.Warn("feed snapshot not stored", "channel", channel, "error", err)
		}
	}
	if err := f.conn.nc.Publish(subjectPrefix+channel, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe registers h for channel. Messages are delivered in order on a
// goroutine owned by the subscription.
func (f *Feed) Subscribe(channel string, h eventfeed.Handler) (func(), error) {
	if channel == "" {
		return nil, fmt.Errorf("subscribe: empty channel")
	}
	if h == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", channel)
	}

	sub, err := f.conn.nc.Subscribe(subjectPrefix+channel, func(msg *nats.Msg) {
		if !msg.Sub.IsValid() {
			return
		}
		h(payload(msg.Data))
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", channel, err)
	}

	return func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrBadSubscription) && !errors.Is(err, nats.ErrConnectionClosed) {
			slog.Debug("nats unsubscribe failed", "channel", channel, "error", err)
		}
	}, nil
}

// Last returns the most recent payload published on channel by any process.
func (f *Feed) Last(ctx context.Context, channel string) ([]byte, bool) {
	if f.last == nil {
		return nil, false
	}
	data, ok, err := f.last.Get(ctx, keyPrefix+channel)
	if err != nil {
		slog.Warn("feed snapshot lookup failed", "channel", channel, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return payload(data), true
}

func payload(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	return data
}
