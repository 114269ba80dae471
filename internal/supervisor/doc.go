// Package supervisor owns the lifecycle of the service under test.
//
// InProcess runs a registered entry point on a goroutine wired to mirrors.
// Subprocess launches an OS process that talks to the socket bus. Both move
// through the same state machine and are the only components that terminate
// the service.
package supervisor
