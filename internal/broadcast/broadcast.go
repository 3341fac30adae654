// Package broadcast derives the live dashboard snapshot from the job
// registry, the model catalog and the GPU provider, and fans it out to
// websocket subscribers. Snapshots are immutable values; a slow
// subscriber only ever misses intermediate states, never the latest.
package broadcast

import (
	"sync"

	"whisperd/internal/events"
	"whisperd/internal/gpu"
	"whisperd/internal/queue"
	"whisperd/pkg/types"
)

// JobSource is the registry view the broadcaster reads.
type JobSource interface {
	Counts() types.JobCounts
	Devices() []queue.DeviceView
}

// ModelSource is the catalog view the broadcaster reads.
type ModelSource interface {
	Models() []types.ModelStatus
	Health() (types.HealthStatus, string)
}

// Broadcaster implements events.Publisher: every lifecycle event makes
// it rebuild the snapshot and push it to all subscribers.
type Broadcaster struct {
	jobs      JobSource
	models    ModelSource
	provider  gpu.Provider
	refreshMS int

	mu      sync.Mutex
	last    types.DashboardState
	subs    map[chan types.DashboardState]struct{}
}

// New builds a broadcaster. refreshMS is echoed in every snapshot so the
// dashboard page knows its poll fallback interval.
func New(jobs JobSource, models ModelSource, provider gpu.Provider, refreshMS int) *Broadcaster {
	b := &Broadcaster{
		jobs:      jobs,
		models:    models,
		provider:  provider,
		refreshMS: refreshMS,
		subs:      make(map[chan types.DashboardState]struct{}),
	}
	b.last = b.build()
	return b
}

// Publish satisfies events.Publisher. The event itself only triggers a
// rebuild; the snapshot is always derived from current source state.
func (b *Broadcaster) Publish(events.Event) {
	b.Refresh()
}

// Refresh rebuilds the snapshot and pushes it to all subscribers.
func (b *Broadcaster) Refresh() {
	s := b.build()
	b.mu.Lock()
	b.last = s
	for ch := range b.subs {
		// Latest wins: evict any stale buffered value and retry until the
		// newest snapshot lands. Refresh is the only sender (and holds
		// the lock, so the channel cannot be closed underneath), so a
		// failed send means the buffer was full a moment ago and the
		// retry after eviction succeeds.
		for {
			select {
			case ch <- s:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
	b.mu.Unlock()
}

// State returns the most recent snapshot.
func (b *Broadcaster) State() types.DashboardState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// Subscribe registers a listener. The returned channel has a one-slot
// buffer and immediately carries the current snapshot. The cancel func
// must be called exactly once; the channel is closed by it.
func (b *Broadcaster) Subscribe() (<-chan types.DashboardState, func()) {
	ch := make(chan types.DashboardState, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	ch <- b.last
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Broadcaster) build() types.DashboardState {
	status, errMsg := b.models.Health()
	devs := b.jobs.Devices()

	gpus := make([]types.GPUStatus, 0, len(devs))
	for _, d := range devs {
		m := b.provider.Metrics(d.Index)
		g := types.GPUStatus{
			Index:        d.Index,
			Name:         b.provider.Name(d.Index),
			UtilPercent:  m.UtilPercent,
			VRAMUsedMB:   m.UsedMB,
			VRAMTotalMB:  m.TotalMB,
			Status:       "idle",
			CurrentJobID: d.CurrentJobID,
			CurrentModel: d.CurrentModel,
		}
		if m.TotalMB > 0 {
			g.VRAMUsedPercent = 100 * m.UsedMB / m.TotalMB
		}
		if d.CurrentJobID != nil {
			g.Status = "running"
		}
		gpus = append(gpus, g)
	}

	return types.DashboardState{
		Health:    types.HealthResponse{Status: status, Error: errMsg},
		Models:    b.models.Models(),
		GPUs:      gpus,
		Jobs:      b.jobs.Counts(),
		RefreshMS: b.refreshMS,
	}
}
