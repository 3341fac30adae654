// Package queue is the scheduling core: the authoritative job registry
// with its FIFO admission queue, the per-device worker pool, the GPU
// metrics sampler, and the one-shot callback dispatcher. It is structured
// into small files by concern:
//
//   - types.go: job record, device state, public view projection.
//   - errors.go: admission/lookup error types and Is* predicates.
//   - registry.go: Registry: create/enqueue/dequeue/transition/get.
//   - sampler.go: per-job GPU telemetry sampling and aggregation.
//   - worker.go: Pool, one supervised worker per device.
//   - callback.go: Dispatcher, single delivery attempt per terminal job.
//   - metrics.go: prometheus collectors for the job lifecycle.
//
// Concurrency model: the Registry map is guarded by one RWMutex; a job in
// `running` is written only by the worker that dequeued it, so there is
// no cross-worker contention on job records. Every successful transition
// publishes an event consumed by the state broadcaster.
package queue
