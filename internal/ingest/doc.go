// Package ingest reads producer snapshots from a spool directory and
// flattens them into metric points. Producers drop either JSON snapshot
// documents or Prometheus text-exposition files; unreadable files are
// skipped for the cycle and retried, never fatal.
package ingest
