// Package channel owns the asynchronous message ports between host and worker.
//
// Ownership boundary:
//   - in-memory pipe pairs for in-process workers
//   - newline-delimited stdio ports for child-process workers
//
// Every port delivers messages on one goroutine, in send order. Send never
// blocks on the receiver.
package channel
