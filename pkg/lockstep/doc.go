// Package lockstep provides an embeddable deterministic replay harness for
// pub/sub services.
//
// A recorded log is replayed into one service under test in strict lockstep:
// every input is delivered only after the service has finished reacting to
// the previous one, and every output is captured and attributed to the input
// that triggered it. Identical logs therefore produce identical outputs,
// which makes the captured outputs usable as regression references.
//
// # Basic Usage
//
// Register the in-process entry point of the service and replay a log:
//
//	h, err := lockstep.New(
//	    lockstep.WithEntry("radard", radard.Run),
//	    lockstep.WithLogger(logger),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	outs, err := h.Replay(ctx, "radard", lockstep.NewLogFile("rlog.ndjson"))
//
// # Services
//
// The harness starts from the builtin service registry. Extra services are
// declared in TOML and merged with [WithRegistryFile], or a complete registry
// is supplied with [WithRegistry].
//
// In-process services receive [Handles] (subscription, publication and raw
// bus socket) and are driven by the harness mirrors. Subprocess services are
// launched with their configured command and reach the harness over a
// loopback websocket whose URL is exported in LOCKSTEP_BUS_URL.
//
// # Verification
//
// [Harness.Verify] compares a replay against reference outputs with the
// service's ignore list and numeric tolerance. [Harness.CheckDeterminism]
// replays the same log several times and compares every run to the first.
package lockstep
