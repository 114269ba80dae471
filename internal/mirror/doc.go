// Package mirror implements the harness side of the bus: in-process stand-ins
// for the subscription, publication and raw socket interfaces that force the
// service under test into lockstep with the replay driver.
//
// Every method documents which side calls it. Service-side waits use
// gate.RoleService and therefore never return on timeout; driver-side waits
// return the gate error so the run can be aborted.
package mirror
