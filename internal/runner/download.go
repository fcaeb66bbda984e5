package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Strob0t/TaskForge/internal/domain/download"
	"github.com/Strob0t/TaskForge/internal/port/downloader"
	"github.com/Strob0t/TaskForge/internal/port/eventfeed"
	"github.com/Strob0t/TaskForge/internal/port/fsprobe"
)

// DownloadDeps are the collaborators of a download Task.
type DownloadDeps struct {
	Paths   fsprobe.Probe
	Feed    eventfeed.Feed
	Manager downloader.Manager
}

type downloadTask struct {
	task     *Task
	watch    *statusWatch
	manager  downloader.Manager
	url      string
	onOutput OutputFunc

	mu       sync.Mutex // serializes status handling
	finished atomic.Bool
}

// Download asks the download manager to fetch url into path and tracks the
// transfer through the download-list channel of deps.Feed.
//
// The Task settles true when the status for path reports done, and false
// when it reports neither done nor downloading. Stop unsubscribes, pauses the
// transfer and settles false without waiting for another status.
//
// Statuses handled after Stop produce no output. A line already on its way
// to onOutput when Stop is called is not interrupted and may arrive after
// Stop returns; Stop does not wait for it, so onOutput may itself call Stop.
func Download(ctx context.Context, deps DownloadDeps, path, url string, onOutput OutputFunc) (*Task, error) {
	absPath, err := deps.Paths.AbsPath(path)
	if err != nil {
		return nil, fmt.Errorf("resolve download path %s: %w", path, err)
	}

	d := &downloadTask{
		manager:  deps.Manager,
		url:      url,
		onOutput: onOutput,
	}
	d.task = newTask(d.stop, nil)
	d.watch = newStatusWatch(absPath, d.handle)

	if err := d.watch.start(deps.Feed, eventfeed.ChannelDownloadList); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", eventfeed.ChannelDownloadList, err)
	}

	if err := deps.Manager.Add(ctx, path, url); err != nil {
		d.watch.close()
		return nil, fmt.Errorf("add download %s: %w", url, err)
	}

	return d.task, nil
}

func (d *downloadTask) handle(s download.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.finished.Load() {
		return
	}

	switch {
	case s.Done:
		d.finish(true, "done: "+s.Describe())
	case !s.Downloading:
		d.finish(false, "stopped: "+s.Describe())
	default:
		d.task.emit(d.onOutput, s.Describe())
	}
}

// finish delivers the terminal line and then settles.
func (d *downloadTask) finish(continued bool, line string) {
	if !d.finished.CompareAndSwap(false, true) {
		return
	}
	d.watch.close()
	d.task.emit(d.onOutput, line)
	d.task.settle(continued, nil)
}

func (d *downloadTask) stop() {
	if !d.finished.CompareAndSwap(false, true) {
		return
	}
	d.watch.close()
	d.manager.Pause(d.url)
	d.task.settle(false, nil)
}
