package runner

import (
	"log/slog"
	"sync"

	"github.com/Strob0t/TaskForge/internal/domain/download"
	"github.com/Strob0t/TaskForge/internal/port/eventfeed"
)

// statusWatch projects the broadcast download list onto the single record
// whose path matches. Only matching records reach onStatus, and nothing does
// once the watch is closed.
type statusWatch struct {
	path     string
	onStatus func(download.Status)

	mu          sync.Mutex
	closed      bool
	unsubscribe func()
}

func newStatusWatch(path string, onStatus func(download.Status)) *statusWatch {
	return &statusWatch{path: path, onStatus: onStatus}
}

func (w *statusWatch) start(feed eventfeed.Feed, channel string) error {
	unsub, err := feed.Subscribe(channel, w.handle)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.unsubscribe = unsub
	closed := w.closed
	w.mu.Unlock()

	// Closed by a handler that ran before Subscribe returned.
	if closed {
		unsub()
	}
	return nil
}

func (w *statusWatch) handle(data []byte) {
	if w.isClosed() {
		return
	}
	list, err := download.DecodeList(data)
	if err != nil {
		slog.Warn("ignoring malformed download list", "path", w.path, "error", err)
		return
	}
	for i := range list {
		if list[i].Path != w.path {
			continue
		}
		if !w.isClosed() {
			w.onStatus(list[i])
		}
		return
	}
}

func (w *statusWatch) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *statusWatch) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	unsub := w.unsubscribe
	w.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}
