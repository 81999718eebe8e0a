// Package metrics provides lock-free counters and a latency histogram for
// authcore observability.
//
// Counters live in cache-line-padded uint64 slots and are incremented with
// sync/atomic. The single histogram uses 8 fixed buckets (≤5ms … +Inf). The
// write path does not allocate.
//
// Export to Prometheus and OpenTelemetry lives in metrics/export and reads
// Snapshot values. This package performs no I/O and keeps no globals.
package metrics
