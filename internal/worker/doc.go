// Package worker owns the runtime that lives inside a spawned worker.
//
// Ownership boundary:
//   - worker lifecycle (uninitialized -> initialized -> started -> terminating)
//   - inbound envelope dispatch to runtime methods
//   - local listeners and the terminate hook
//
// Lifecycle order:
//   - Run binds the body, self-initializes and reports worker-loaded.
//   - start runs the body's main with the host's arguments, then reports
//     worker-started.
//   - terminate runs the terminate hook once and answers terminateNow with the
//     hook's result; a truthy first argument also closes the worker.
//
// Trigger on this side always relays through the host. TriggerSelf is the
// only local delivery path.
package worker
