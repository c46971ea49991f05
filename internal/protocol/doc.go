// Package protocol owns the host<->worker wire contract.
//
// Ownership boundary:
//   - envelope marker, encode and decode
//   - action vocabulary (configurable names)
//   - lifecycle event vocabulary
//
// Only JSON objects carrying the marker field set to true are protocol
// traffic. Anything else travelling on the same channel is foreign and is
// ignored by both dispatchers.
package protocol
