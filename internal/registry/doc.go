// Package registry holds the service configurations the harness knows how to
// replay, the topic frequency table, and the expectation policies that decide
// when a service is due to publish.
//
// A Registry is a plain value. Nothing in this package keeps process-wide
// state, so independent replay sessions never observe each other's
// configuration.
package registry
