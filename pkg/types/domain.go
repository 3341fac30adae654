package types

// JobStatus is the lifecycle state of a transcription job.
// Transitions are monotonic: queued -> running -> {completed | failed}.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether s is a terminal job state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// HealthStatus is the overall service health.
type HealthStatus string

const (
	HealthStarting HealthStatus = "starting"
	HealthReady    HealthStatus = "ready"
	HealthError    HealthStatus = "error"
)

// ModelReadiness is the download/readiness state of an enabled model.
// Transitions are monotonic: pending -> downloading -> {ready | failed}.
type ModelReadiness string

const (
	ModelPending     ModelReadiness = "pending"
	ModelDownloading ModelReadiness = "downloading"
	ModelReady       ModelReadiness = "ready"
	ModelFailed      ModelReadiness = "failed"
)

// Terminal reports whether r is a terminal readiness state.
func (r ModelReadiness) Terminal() bool {
	return r == ModelReady || r == ModelFailed
}
