package runner

import (
	"fmt"
	"sync/atomic"

	"github.com/Strob0t/TaskForge/internal/port/processhost"
)

// Chain runs the invocations in argv one after another behind a single Task.
//
// Stage N+1 starts once stage N has settled without error, whatever its
// continued value: stopping a stage moves the chain on to the next one. A
// stage error aborts the chain and becomes the chain's outcome. Otherwise the
// chain settles with the last stage's outcome.
//
// Stop and EventID of the returned Task always act on the running stage.
func Chain(host processhost.Host, argv [][]string, onOutput OutputFunc) (*Task, error) {
	if len(argv) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrChainTooShort, len(argv))
	}

	var current atomic.Pointer[Task]
	current.Store(Start(host, argv[0], onOutput))

	t := newTask(
		func() { current.Load().Stop() },
		func() string { return current.Load().EventID() },
	)

	go func() {
		stage := current.Load()
		for i, args := range argv[1:] {
			<-stage.Done()
			if _, err := stage.Result(); err != nil {
				t.settle(false, fmt.Errorf("chain stage %d: %w", i+1, err))
				return
			}
			stage = Start(host, args, onOutput)
			current.Store(stage)
		}

		<-stage.Done()
		continued, err := stage.Result()
		if err != nil {
			err = fmt.Errorf("chain stage %d: %w", len(argv), err)
		}
		t.settle(continued, err)
	}()

	return t, nil
}
