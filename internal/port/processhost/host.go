// Package processhost defines the port for starting and controlling external
// command-line invocations.
package processhost

// Callbacks receive the events of one session. OnOutput may fire any number
// of times; afterwards exactly one of OnExit or OnError fires.
type Callbacks struct {
	// OnOutput receives one line of output (stdout or stderr), without the newline.
	OnOutput func(line string)

	// OnExit reports normal termination. stopped is true when the session
	// ended because Stop was called.
	OnExit func(stopped bool)

	// OnError reports an abnormal termination or a failure to start.
	OnError func(message string)
}

// Session is a handle to one running invocation.
type Session interface {
	// ID returns the session identifier (the task's event id).
	ID() string

	// Stop asks the invocation to terminate. Safe to call more than once.
	Stop()
}

// Host starts external invocations.
type Host interface {
	// Start begins the invocation described by args (command path followed by
	// its arguments). It never fails synchronously: start failures are
	// delivered through cb.OnError.
	Start(args []string, cb Callbacks) Session
}
