// Package eventfeed defines the named-channel publish/subscribe port.
package eventfeed

import "context"

// ChannelDownloadList carries the complete list of download statuses.
const ChannelDownloadList = "downloadList"

// Handler receives the payload of one publish. data is nil when the
// publisher had no data yet.
type Handler func(data []byte)

// Feed is the port interface for broadcasting state on named channels.
type Feed interface {
	// Publish delivers data to every current subscriber of channel.
	Publish(ctx context.Context, channel string, data []byte) error

	// Subscribe registers h for channel. The returned function removes the
	// subscription; it is safe to call more than once and from inside h.
	Subscribe(channel string, h Handler) (unsubscribe func(), err error)
}

// Snapshotter exposes the last payload published on a channel.
type Snapshotter interface {
	Last(ctx context.Context, channel string) ([]byte, bool)
}
