package queue

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"whisperd/internal/events"
	"whisperd/pkg/types"
)

// Admission is the catalog view consulted at enqueue time.
type Admission interface {
	ReadyModel(name string) bool
}

// Registry is the authoritative store of job records and device bindings.
// It implements the whole admission surface: create, enqueue (implicit in
// Create), blocking dequeue, lifecycle transitions, and lookups.
type Registry struct {
	adm Admission
	pub events.Publisher

	mu      sync.RWMutex
	jobs    map[string]*job
	order   []string // submission order, for queued/running listings
	devices []*deviceState

	fifo chan string
}

// NewRegistry creates a registry for the given fixed device count. The
// queue holds at most depth pending jobs; admission beyond that is
// rejected with a queue-full error.
func NewRegistry(devices, depth int, adm Admission) *Registry {
	if depth <= 0 {
		depth = 256
	}
	ds := make([]*deviceState, devices)
	for i := range ds {
		ds[i] = &deviceState{index: i}
	}
	return &Registry{
		adm:     adm,
		pub:     events.NoopPublisher{},
		jobs:    make(map[string]*job),
		devices: ds,
		fifo:    make(chan string, depth),
	}
}

// SetPublisher installs the event sink. Must be called before workers start.
func (r *Registry) SetPublisher(p events.Publisher) {
	if p != nil {
		r.pub = p
	}
}

// NumDevices returns the size of the fixed device set.
func (r *Registry) NumDevices() int { return len(r.devices) }

// Create admits a submission: validates it, creates the job record in
// `queued` state and appends it to the FIFO, all atomically. On any
// rejection no record exists and the queue is untouched.
func (r *Registry) Create(spec Spec) (string, error) {
	if strings.TrimSpace(spec.Model) == "" {
		return "", ErrInvalidRequest("model is required")
	}
	if strings.TrimSpace(spec.CallbackURL) == "" {
		return "", ErrInvalidRequest("callback_url is required")
	}
	if strings.TrimSpace(spec.InputDir) == "" {
		return "", ErrInvalidRequest("audio file is required")
	}
	if !r.adm.ReadyModel(spec.Model) {
		return "", modelUnavailableError{model: spec.Model}
	}

	id := uuid.NewString()
	j := &job{
		id:          id,
		model:       spec.Model,
		language:    spec.Language,
		callbackURL: spec.CallbackURL,
		inputDir:    spec.InputDir,
		status:      types.JobQueued,
		createdAtMS: nowMS(),
		device:      -1,
	}

	r.mu.Lock()
	select {
	case r.fifo <- id:
	default:
		r.mu.Unlock()
		return "", queueFullError{}
	}
	r.jobs[id] = j
	r.order = append(r.order, id)
	queueDepth.Set(float64(len(r.fifo)))
	r.mu.Unlock()

	r.pub.Publish(events.Event{Name: events.JobQueued, ID: id})
	return id, nil
}

// DequeueNext blocks until a queued job exists or ctx is canceled.
// Hand-off order is strict FIFO by admission time.
func (r *Registry) DequeueNext(ctx context.Context) (string, error) {
	select {
	case id := <-r.fifo:
		queueDepth.Set(float64(len(r.fifo)))
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Start transitions a queued job to running and binds it to device.
func (r *Registry) Start(id string, device int) error {
	r.mu.Lock()
	j, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return notFoundError{id: id}
	}
	if j.status != types.JobQueued {
		r.mu.Unlock()
		return transitionError{msg: "start: job " + id + " is " + string(j.status)}
	}
	if device < 0 || device >= len(r.devices) {
		r.mu.Unlock()
		return transitionError{msg: "start: no such device"}
	}
	if cur := r.devices[device].currentJob; cur != "" {
		r.mu.Unlock()
		return transitionError{msg: "start: device busy with " + cur}
	}
	j.status = types.JobRunning
	j.startedAtMS = nowMS()
	j.device = device
	r.devices[device].currentJob = id
	r.mu.Unlock()

	// Publish outside the lock: the broadcaster reads back through the
	// registry while handling the event.
	r.pub.Publish(events.Event{Name: events.JobStarted, ID: id})
	return nil
}

// Complete transitions a running job to completed with its result and
// releases the device binding.
func (r *Registry) Complete(id string, result *types.Result) error {
	return r.finish(id, types.JobCompleted, result, nil)
}

// Fail transitions a running job to failed with the captured message and
// releases the device binding.
func (r *Registry) Fail(id, msg string) error {
	return r.finish(id, types.JobFailed, nil, &msg)
}

func (r *Registry) finish(id string, status types.JobStatus, result *types.Result, errMsg *string) error {
	r.mu.Lock()
	j, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return notFoundError{id: id}
	}
	if j.status != types.JobRunning {
		r.mu.Unlock()
		return transitionError{msg: "finish: job " + id + " is " + string(j.status)}
	}
	j.status = status
	j.finishedAtMS = nowMS()
	if result != nil {
		result.QueueTimeS = msToS(j.startedAtMS - j.createdAtMS)
		result.ProcessingTimeS = msToS(j.finishedAtMS - j.startedAtMS)
	}
	j.result = result
	j.errMsg = errMsg
	if j.device >= 0 && j.device < len(r.devices) {
		r.devices[j.device].currentJob = ""
	}
	// Both halves of the binding are cleared together.
	j.device = -1
	durS := msToS(j.finishedAtMS - j.startedAtMS)
	r.mu.Unlock()

	name := events.JobCompleted
	if status == types.JobFailed {
		name = events.JobFailed
	}
	jobsTotal.WithLabelValues(string(status)).Inc()
	jobDuration.Observe(durS)
	r.pub.Publish(events.Event{Name: name, ID: id})
	return nil
}

// RecordCallback stores the single delivery outcome for a terminal job.
// A second attempt to record is refused: exactly one delivery is ever
// attempted per job.
func (r *Registry) RecordCallback(id string, delivered bool, deliveredAtMS *int64, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return notFoundError{id: id}
	}
	if !j.status.Terminal() {
		return transitionError{msg: "callback: job " + id + " is " + string(j.status)}
	}
	if j.callbackRecorded {
		return transitionError{msg: "callback: outcome already recorded for " + id}
	}
	j.callbackRecorded = true
	j.callbackDelivered = delivered
	j.callbackDeliveredAt = deliveredAtMS
	j.callbackError = errMsg
	outcome := "delivered"
	if !delivered {
		outcome = "failed"
	}
	callbackDeliveries.WithLabelValues(outcome).Inc()
	return nil
}

// Get returns the public view of a job.
func (r *Registry) Get(id string) (types.JobView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return types.JobView{}, notFoundError{id: id}
	}
	return j.view(), nil
}

// CallbackURL returns the delivery endpoint for a job.
func (r *Registry) CallbackURL(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return "", notFoundError{id: id}
	}
	return j.callbackURL, nil
}

// InputDir returns the upload directory for a job.
func (r *Registry) InputDir(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return "", notFoundError{id: id}
	}
	return j.inputDir, nil
}

// QueuedIDs returns ids in `queued` state in submission order.
func (r *Registry) QueuedIDs() []string { return r.idsInState(types.JobQueued) }

// RunningIDs returns ids in `running` state in submission order.
func (r *Registry) RunningIDs() []string { return r.idsInState(types.JobRunning) }

func (r *Registry) idsInState(s types.JobStatus) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []string{}
	for _, id := range r.order {
		if r.jobs[id].status == s {
			out = append(out, id)
		}
	}
	return out
}

// Counts summarizes the registry for the dashboard.
func (r *Registry) Counts() types.JobCounts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := types.JobCounts{Total: len(r.jobs), QueuedIDs: []string{}, RunningIDs: []string{}}
	for _, id := range r.order {
		switch r.jobs[id].status {
		case types.JobQueued:
			c.QueuedIDs = append(c.QueuedIDs, id)
		case types.JobRunning:
			c.RunningIDs = append(c.RunningIDs, id)
		}
	}
	c.Queued = len(c.QueuedIDs)
	c.Running = len(c.RunningIDs)
	return c
}

// Devices returns the current device bindings for snapshot building.
func (r *Registry) Devices() []DeviceView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DeviceView, len(r.devices))
	for i, d := range r.devices {
		dv := DeviceView{Index: d.index}
		if d.currentJob != "" {
			id := d.currentJob
			dv.CurrentJobID = &id
			if j, ok := r.jobs[id]; ok {
				model := j.model
				dv.CurrentModel = &model
			}
		}
		out[i] = dv
	}
	return out
}
