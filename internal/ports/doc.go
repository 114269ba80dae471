// Package ports defines the capability interfaces that connect the replay
// core to the service under test and to infrastructure adapters.
//
// A service under test never talks to a concrete bus. It is constructed with
// the interfaces below and receives either the real implementations or the
// harness mirrors, selected by dependency injection.
//
// # Port Interfaces
//
//   - [StateProvider]: latest-state-per-topic subscription interface
//   - [Publisher]: publish a message on a topic
//   - [Socket]: raw single-topic receive/send (bus input)
//   - [LogSource]: restartable source of recorded messages
//   - [BusTransport]: real socket transport for subprocess services
//   - [Launcher], [Process]: OS process control
package ports
