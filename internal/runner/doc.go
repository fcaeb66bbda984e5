// Package runner represents long-running external operations as Tasks:
// handles that can be stopped, that stream output lines to a caller-supplied
// sink, and that settle exactly once with a "continued" outcome.
//
// Three constructors exist:
//
//   - Start wraps one process-host invocation.
//   - Chain runs several invocations strictly one after another behind a
//     single Task whose Stop and EventID follow the stage currently running.
//   - Download tracks a transfer through the download-list feed channel and
//     detects completion from status snapshots rather than a process exit.
//
// A Task settles as completed (true, nil), stopped (false, nil) or errored
// (false, err). Stopping is not an error.
package runner
