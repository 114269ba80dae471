// Package replay drives a recorded log through a running service and
// captures what it publishes.
//
// The Scheduler owns the Session: sorted inputs, per-topic frame counters and
// captured outputs. In-process services are driven in strict lockstep
// through the mirrors; subprocess services are driven over the socket bus
// with settle-and-poll steps.
package replay
