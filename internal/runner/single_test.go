package runner_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/Strob0t/TaskForge/internal/runner"
)

func TestStartCompletes(t *testing.T) {
	host := newFakeHost()
	var out lines

	task := runner.Start(host, []string{"python", "main.py"}, out.add)
	s := host.next(t)

	if task.EventID() != s.ID() {
		t.Fatalf("EventID = %q, want %q", task.EventID(), s.ID())
	}
	if !slices.Equal(s.args, []string{"python", "main.py"}) {
		t.Fatalf("args = %v", s.args)
	}

	s.cb.OnOutput("loading")
	s.cb.OnOutput("ready")
	s.cb.OnExit(false)

	continued, err := wait(t, task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !continued {
		t.Fatal("expected continued = true")
	}
	if got := out.all(); !slices.Equal(got, []string{"loading", "ready"}) {
		t.Fatalf("output = %v", got)
	}
	if task.EventID() != s.ID() {
		t.Fatal("EventID must stay defined after completion")
	}
}

func TestStartNilOutput(t *testing.T) {
	host := newFakeHost()
	task := runner.Start(host, []string{"true"}, nil)
	s := host.next(t)

	s.cb.OnOutput("ignored")
	s.cb.OnExit(false)

	if continued, err := wait(t, task); !continued || err != nil {
		t.Fatalf("got (%v, %v), want (true, nil)", continued, err)
	}
}

func TestStartStopped(t *testing.T) {
	host := newFakeHost()
	task := runner.Start(host, []string{"sleep", "100"}, nil)
	s := host.next(t)

	task.Stop()
	continued, err := wait(t, task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if continued {
		t.Fatal("expected continued = false after Stop")
	}

	task.Stop()
	task.Stop()
	if n := s.stops.Load(); n != 1 {
		t.Fatalf("session stopped %d times, want 1", n)
	}
	if continued, _ := task.Result(); continued {
		t.Fatal("outcome changed after repeated Stop")
	}
}

func TestStartStopBeforeExitIsIdempotent(t *testing.T) {
	host := newFakeHost()
	host.exitOnStop = false
	task := runner.Start(host, []string{"sleep", "100"}, nil)
	s := host.next(t)

	task.Stop()
	task.Stop()
	if n := s.stops.Load(); n != 1 {
		t.Fatalf("session stopped %d times, want 1", n)
	}

	s.cb.OnExit(true)
	if continued, err := wait(t, task); continued || err != nil {
		t.Fatalf("got (%v, %v), want (false, nil)", continued, err)
	}
}

func TestStartError(t *testing.T) {
	host := newFakeHost()
	task := runner.Start(host, []string{"convert", "--in", "x"}, nil)
	s := host.next(t)

	s.cb.OnError("exit status 2")

	continued, err := wait(t, task)
	if continued {
		t.Fatal("expected continued = false on error")
	}
	if !errors.Is(err, runner.ErrExecution) {
		t.Fatalf("expected ErrExecution, got %v", err)
	}
	var execErr *runner.ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *ExecError, got %T", err)
	}
	if execErr.Message != "exit status 2" || execErr.Args[0] != "convert" {
		t.Fatalf("unexpected ExecError: %+v", execErr)
	}
}

func TestStartSettlesOnce(t *testing.T) {
	host := newFakeHost()
	var out lines
	task := runner.Start(host, []string{"x"}, out.add)
	s := host.next(t)

	s.cb.OnExit(false)
	s.cb.OnError("late failure")
	s.cb.OnOutput("late line")

	continued, err := wait(t, task)
	if !continued || err != nil {
		t.Fatalf("got (%v, %v), want (true, nil)", continued, err)
	}
	if got := out.all(); len(got) != 0 {
		t.Fatalf("output after settle delivered: %v", got)
	}

	task.Stop()
	if s.stops.Load() != 0 {
		t.Fatal("Stop after settle must not reach the session")
	}
}

func TestStartCopiesArgs(t *testing.T) {
	host := newFakeHost()
	args := []string{"a", "b"}
	runner.Start(host, args, nil)
	s := host.next(t)

	args[0] = "mutated"
	if s.args[0] != "a" {
		t.Fatal("Start must not share the caller's slice")
	}
}

func TestResultPending(t *testing.T) {
	host := newFakeHost()
	task := runner.Start(host, []string{"x"}, nil)
	host.next(t)

	if _, err := task.Result(); !errors.Is(err, runner.ErrPending) {
		t.Fatalf("expected ErrPending, got %v", err)
	}
}

func TestWaitContextCancelled(t *testing.T) {
	host := newFakeHost()
	task := runner.Start(host, []string{"x"}, nil)
	s := host.next(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := task.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if task.Settled() {
		t.Fatal("cancelling Wait must not settle the task")
	}
	if s.stops.Load() != 0 {
		t.Fatal("cancelling Wait must not stop the task")
	}
}

func TestImmediate(t *testing.T) {
	task := runner.Immediate()
	if !task.Settled() {
		t.Fatal("Immediate must be settled")
	}
	task.Stop()
	continued, err := task.Result()
	if !continued || err != nil {
		t.Fatalf("got (%v, %v), want (true, nil)", continued, err)
	}
	if task.EventID() != "" {
		t.Fatalf("Immediate has no event id, got %q", task.EventID())
	}
}
