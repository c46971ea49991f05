// Package host implements the host side of a worker: a Proxy that resolves
// the worker source, renders and spawns the bootstrap, drives the lifecycle
// state machine and relays events between local listeners and the worker.
//
// Construction misuse is the only failure returned to callers. Everything
// after New is reported on the proxy's event bus as a webworker:error event
// and recorded as the proxy's and the process-wide last error.
package host
