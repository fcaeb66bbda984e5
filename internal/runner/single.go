package runner

import (
	"slices"
	"sync"

	"github.com/Strob0t/TaskForge/internal/port/processhost"
)

// Start launches args through host right away and returns its Task.
// Output lines go to onOutput (may be nil). The Task settles true on a
// natural exit, false when stopped, and with an *ExecError when the host
// reports a failure. Start itself never fails.
func Start(host processhost.Host, args []string, onOutput OutputFunc) *Task {
	argv := slices.Clone(args)
	t := newTask(nil, nil)

	session := host.Start(argv, processhost.Callbacks{
		OnOutput: func(line string) { t.emit(onOutput, line) },
		OnExit:   func(stopped bool) { t.settle(!stopped, nil) },
		OnError: func(msg string) {
			t.settle(false, &ExecError{Args: argv, Message: msg})
		},
	})

	t.stopFn = sync.OnceFunc(session.Stop)
	t.eventFn = session.ID
	return t
}
