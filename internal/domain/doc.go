// Package domain contains the core entities and error values of the replay
// harness.
//
// This package is the innermost layer. It has no dependencies on transports,
// processes, the file system or logging, and contains only the message model
// that every other layer agrees on.
//
// # Entities
//
//   - [Message]: one recorded bus message (topic, monotonic time, payload)
//   - [BusFrame]: one raw frame carried inside a bus message
//   - [Output]: one message captured from the service under test
//
// Messages are treated as immutable once they have been read from a log.
package domain
