package queue

import (
	"time"

	"whisperd/pkg/types"
)

// Spec is a validated submission: everything needed to create a job.
type Spec struct {
	Model       string
	Language    string
	CallbackURL string
	// InputDir holds the uploaded file as <dir>/input; the normalized
	// wav is produced next to it.
	InputDir string
}

// job is the internal record. Owned by the Registry; while running it is
// mutated only through Registry methods called by the owning worker.
type job struct {
	id          string
	model       string
	language    string
	callbackURL string
	inputDir    string

	status       types.JobStatus
	createdAtMS  int64
	startedAtMS  int64
	finishedAtMS int64

	// device is -1 until the job is running.
	device int

	result *types.Result
	errMsg *string

	callbackRecorded    bool
	callbackDelivered   bool
	callbackDeliveredAt *int64
	callbackError       *string
}

// deviceState tracks the exclusive binding of a device to its current
// job. The current-job relation and the running job's device index are
// mutual inverses, maintained under the Registry lock.
type deviceState struct {
	index      int
	currentJob string
}

func nowMS() int64 { return time.Now().UnixMilli() }

func msToS(ms int64) float64 { return float64(ms) / 1000.0 }

// view projects a job into its public shape. Times follow the original
// bookkeeping: queue time runs from creation to start, processing time
// from start to finish, both zero until the boundary is crossed.
func (j *job) view() types.JobView {
	started := j.startedAtMS
	if started == 0 {
		started = j.createdAtMS
	}
	finished := j.finishedAtMS
	if finished == 0 {
		finished = started
	}
	return types.JobView{
		JobID:           j.id,
		Status:          j.status,
		Model:           j.model,
		Language:        j.language,
		QueueTimeS:      msToS(started - j.createdAtMS),
		ProcessingTimeS: msToS(finished - started),
		Result:          j.result,
		Error:           j.errMsg,
		Callback: types.CallbackOutcome{
			Delivered:     j.callbackDelivered,
			DeliveredAtMS: j.callbackDeliveredAt,
			Error:         j.callbackError,
		},
	}
}

// DeviceView is the registry's side of a device for snapshot building.
type DeviceView struct {
	Index        int
	CurrentJobID *string
	CurrentModel *string
}
