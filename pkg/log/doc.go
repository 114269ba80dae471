// Package log provides the logging abstraction used by every lockstep
// component.
//
// Components never import a logging library directly. They receive a
// Logger by injection, which keeps replay code free of global logger state
// and lets tests run silently with NewNoopLogger.
//
// # Usage
//
// Wrap a zerolog logger:
//
//	logger := log.NewZerologAdapterWithLogger(zerolog.New(os.Stderr))
//
// Scope a logger to one replay session:
//
//	sessionLog := logger.With(log.Service("radard"), log.String("session", id))
//	sessionLog.Info("replay started", log.Int("inputs", n))
package log
