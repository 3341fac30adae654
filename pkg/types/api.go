package types

// TranscribeResponse is returned by POST /transcribe on admission.
type TranscribeResponse struct {
	// Identifier of the admitted job.
	// example: 6f1c7b9e-0b1a-4e5f-9c3d-2a8d7e4b1c90
	JobID string `json:"job_id" example:"6f1c7b9e-0b1a-4e5f-9c3d-2a8d7e4b1c90"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	// Overall service health.
	// example: ready
	Status HealthStatus `json:"status" example:"ready"`
	// Initialization error message, set only when status is "error".
	Error string `json:"error,omitempty"`
}

// QueueResponse is returned by GET /queue.
type QueueResponse struct {
	// "idle" when nothing is queued or running, "busy" otherwise.
	// example: busy
	Status string `json:"status" example:"busy"`
	// Job ids waiting for a device, in submission order.
	Queued []string `json:"queued"`
	// Job ids currently executing.
	Running []string `json:"running"`
}

// Segment is one timed chunk of recognized speech.
type Segment struct {
	// Start offset in seconds.
	Start float64 `json:"start"`
	// End offset in seconds.
	End float64 `json:"end"`
	// Recognized text for this time range.
	Text string `json:"text"`
}

// GPUStats aggregates device telemetry sampled while a job ran.
type GPUStats struct {
	Index              int     `json:"index"`
	UtilAvgPercent     float64 `json:"util_avg_percent"`
	UtilMaxPercent     float64 `json:"util_max_percent"`
	VRAMTotalMB        float64 `json:"vram_total_mb"`
	VRAMUsedAvgMB      float64 `json:"vram_used_avg_mb"`
	VRAMUsedMaxMB      float64 `json:"vram_used_max_mb"`
	VRAMUsedPercent    float64 `json:"vram_used_percent"`
	VRAMUsedPercentMax float64 `json:"vram_used_percent_max"`
}

// Result is the structured payload of a completed job.
type Result struct {
	Text            string    `json:"text"`
	Segments        []Segment `json:"segments"`
	QueueTimeS      float64   `json:"queue_time_s"`
	ProcessingTimeS float64   `json:"processing_time_s"`
	GPU             GPUStats  `json:"gpu"`
	TokenCount      int       `json:"token_count"`
}

// CallbackOutcome records the single delivery attempt for a terminal job.
type CallbackOutcome struct {
	Delivered     bool    `json:"delivered"`
	DeliveredAtMS *int64  `json:"delivered_at_ms"`
	Error         *string `json:"error"`
}

// JobView is the public projection of a job record. It is returned by
// GET /status and is the body POSTed to the caller's callback URL.
type JobView struct {
	JobID           string          `json:"job_id"`
	Status          JobStatus       `json:"status"`
	Model           string          `json:"model"`
	Language        string          `json:"language"`
	QueueTimeS      float64         `json:"queue_time_s"`
	ProcessingTimeS float64         `json:"processing_time_s"`
	Result          *Result         `json:"result"`
	Error           *string         `json:"error"`
	Callback        CallbackOutcome `json:"callback"`
}

// ModelStatus summarizes one enabled model for the dashboard.
type ModelStatus struct {
	ID      int64          `json:"id_model"`
	Name    string         `json:"model_name"`
	Enabled bool           `json:"enabled"`
	Status  ModelReadiness `json:"status"`
	// Download progress percentage (0 or 100 at the endpoints).
	Progress float64 `json:"progress"`
}

// GPUStatus summarizes one device for the dashboard.
type GPUStatus struct {
	Index           int     `json:"index"`
	Name            string  `json:"name"`
	UtilPercent     float64 `json:"util_percent"`
	VRAMUsedMB      float64 `json:"vram_used_mb"`
	VRAMTotalMB     float64 `json:"vram_total_mb"`
	VRAMUsedPercent float64 `json:"vram_used_percent"`
	// "running" while a job is bound to the device, else "idle".
	Status       string  `json:"status"`
	CurrentJobID *string `json:"current_job_id"`
	CurrentModel *string `json:"current_model"`
}

// JobCounts summarizes the registry for the dashboard.
type JobCounts struct {
	Total      int      `json:"total"`
	Queued     int      `json:"queued"`
	Running    int      `json:"running"`
	QueuedIDs  []string `json:"queued_ids"`
	RunningIDs []string `json:"running_ids"`
}

// DashboardState is the derived, point-in-time snapshot pushed over the
// websocket channel and served by GET /dashboard/state. Each state change
// produces a new value; it is never mutated in place.
type DashboardState struct {
	Health    HealthResponse `json:"health"`
	Models    []ModelStatus  `json:"models"`
	GPUs      []GPUStatus    `json:"gpus"`
	Jobs      JobCounts      `json:"jobs"`
	RefreshMS int            `json:"refresh_ms"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: unknown model
	Error string `json:"error" example:"unknown model"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
