package queue

import (
	"sync"
	"time"

	"whisperd/internal/gpu"
	"whisperd/pkg/types"
)

// Sampler polls one device on a fixed interval for the duration of a job
// and aggregates the samples into GPUStats on Stop. A sampler serves
// exactly one job and is not reused.
type Sampler struct {
	provider gpu.Provider
	device   int
	interval time.Duration

	mu      sync.Mutex
	utils   []float64
	usedMB  []float64
	totalMB float64

	stop chan struct{}
	done chan struct{}
}

// NewSampler starts sampling the device immediately. interval <= 0 falls
// back to 500ms.
func NewSampler(provider gpu.Provider, device int, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	s := &Sampler{
		provider: provider,
		device:   device,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sampler) run() {
	defer close(s.done)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.sample()
		case <-s.stop:
			return
		}
	}
}

func (s *Sampler) sample() {
	m := s.provider.Metrics(s.device)
	s.mu.Lock()
	s.utils = append(s.utils, m.UtilPercent)
	s.usedMB = append(s.usedMB, m.UsedMB)
	s.totalMB = m.TotalMB
	s.mu.Unlock()
}

// Stop halts sampling and returns the aggregate. A job that finished
// before the first tick gets a single immediate reading so the stats are
// never empty.
func (s *Sampler) Stop() types.GPUStats {
	close(s.stop)
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.utils) == 0 {
		m := s.provider.Metrics(s.device)
		s.utils = append(s.utils, m.UtilPercent)
		s.usedMB = append(s.usedMB, m.UsedMB)
		s.totalMB = m.TotalMB
	}

	st := types.GPUStats{
		Index:       s.device,
		VRAMTotalMB: s.totalMB,
	}
	st.UtilAvgPercent, st.UtilMaxPercent = avgMax(s.utils)
	st.VRAMUsedAvgMB, st.VRAMUsedMaxMB = avgMax(s.usedMB)
	if s.totalMB > 0 {
		st.VRAMUsedPercent = 100 * st.VRAMUsedAvgMB / s.totalMB
		st.VRAMUsedPercentMax = 100 * st.VRAMUsedMaxMB / s.totalMB
	}
	return st
}

func avgMax(vs []float64) (avg, max float64) {
	var sum float64
	for _, v := range vs {
		sum += v
		if v > max {
			max = v
		}
	}
	if len(vs) > 0 {
		avg = sum / float64(len(vs))
	}
	return avg, max
}
