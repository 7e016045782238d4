// Package anchor records the log's root at a fixed cadence in a separate
// append-only store, giving auditors a timestamped checkpoint trail.
//
// The Loop appends one Record per period whether or not the log grew, so a
// missing checkpoint is itself evidence that the log was unreachable.
package anchor
