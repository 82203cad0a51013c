// Package router orchestrates the full life of a routing decision. One
// RouteTransaction call turns a transaction context into a claimed account:
// the rule engine produces a directive, the selector claims a target, the
// recorder opens the audit trail and the failover controller takes over for
// everything the processing collaborator reports back through
// ReportOutcome. Simulate walks the same path without claiming or
// recording anything.
//
// The package owns the caller-facing error taxonomy: a rule block, an
// empty candidate set, an exhausted attempt budget and a missed deadline
// are distinct conditions and stay distinct on the way out, so callers can
// message each differently.
package router
