// Package metrics implements the in-memory metric store: bounded,
// append-only series of time-stamped points keyed by metric name, with
// trailing-window queries used by the analyzer, the health scorer, and the
// rule evaluator.
package metrics
