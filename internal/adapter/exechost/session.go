package exechost

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/Strob0t/TaskForge/internal/port/processhost"
)

const maxLineSize = 64 * 1024

type session struct {
	id     string
	args   []string
	host   *Host
	cancel context.CancelFunc

	stopped atomic.Bool
}

func (s *session) ID() string { return s.id }

// Stop interrupts the process; it is killed if it outlives the grace period.
func (s *session) Stop() {
	if s.stopped.CompareAndSwap(false, true) {
		slog.Debug("process stop requested", "event_id", s.id)
		s.cancel()
	}
}

func (s *session) run(ctx context.Context, cb processhost.Callbacks) {
	defer s.host.forget(s.id)
	defer s.cancel()

	if len(s.args) == 0 || s.args[0] == "" {
		cb.OnError("empty command")
		return
	}

	if err := s.host.acquire(ctx); err != nil {
		// Stopped while waiting for a slot.
		cb.OnExit(true)
		return
	}
	defer s.host.release()

	cmd := exec.CommandContext(ctx, s.args[0], s.args[1:]...) //nolint:gosec // argument vectors come from trusted builders
	cmd.Dir = s.host.opts.WorkDir
	cmd.Env = append(os.Environ(), s.host.opts.Env...)
	cmd.Cancel = func() error { return interrupt(cmd.Process) }
	cmd.WaitDelay = s.host.opts.StopGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cb.OnError(fmt.Sprintf("stdout pipe: %v", err))
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cb.OnError(fmt.Sprintf("stderr pipe: %v", err))
		return
	}

	if err := cmd.Start(); err != nil {
		if s.stopped.Load() {
			cb.OnExit(true)
			return
		}
		cb.OnError(err.Error())
		return
	}
	slog.Info("process started", "event_id", s.id, "command", s.args[0], "pid", cmd.Process.Pid)

	lines := make(chan string, 64)
	var readers sync.WaitGroup
	readers.Add(2)
	go scanLines(stdout, lines, &readers)
	go scanLines(stderr, lines, &readers)
	go func() {
		readers.Wait()
		close(lines)
	}()

	// One goroutine delivers all output so OnOutput is never concurrent.
	for line := range lines {
		cb.OnOutput(line)
	}

	// WaitDelay kills the process if it outlives the interrupt.
	waitErr := cmd.Wait()

	switch {
	case s.stopped.Load():
		slog.Info("process stopped", "event_id", s.id)
		cb.OnExit(true)
	case waitErr == nil:
		slog.Info("process exited", "event_id", s.id)
		cb.OnExit(false)
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			slog.Warn("process failed", "event_id", s.id, "exit_code", exitErr.ExitCode())
		}
		cb.OnError(waitErr.Error())
	}
}

func scanLines(r io.Reader, out chan<- string, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	for scanner.Scan() {
		out <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		slog.Debug("output scan stopped", "error", err)
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
}

func interrupt(p *os.Process) error {
	if runtime.GOOS == "windows" {
		return p.Kill()
	}
	return p.Signal(os.Interrupt)
}
