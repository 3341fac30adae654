package queue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"whisperd/internal/engine"
	"whisperd/internal/gpu"
	"whisperd/pkg/types"
)

// Pool runs one worker goroutine per device. Each worker pulls the next
// queued job, binds its device exclusively for the job's duration, and
// drives the pipeline: normalize, transcribe, finish, deliver callback.
type Pool struct {
	reg        *Registry
	provider   gpu.Provider
	normalizer engine.Normalizer
	engine     engine.Transcriber
	dispatcher *Dispatcher

	sampleInterval time.Duration
	log            zerolog.Logger
}

// PoolConfig wires the pool's collaborators.
type PoolConfig struct {
	Registry       *Registry
	Provider       gpu.Provider
	Normalizer     engine.Normalizer
	Transcriber    engine.Transcriber
	Dispatcher     *Dispatcher
	SampleInterval time.Duration
	Logger         zerolog.Logger
}

// NewPool creates a pool sized to the registry's device count.
func NewPool(cfg PoolConfig) *Pool {
	return &Pool{
		reg:            cfg.Registry,
		provider:       cfg.Provider,
		normalizer:     cfg.Normalizer,
		engine:         cfg.Transcriber,
		dispatcher:     cfg.Dispatcher,
		sampleInterval: cfg.SampleInterval,
		log:            cfg.Logger.With().Str("component", "worker").Logger(),
	}
}

// Run starts every worker and blocks until ctx is canceled and all
// workers have returned. In-flight jobs run to completion only if the
// engine honors ctx; queued jobs stay queued.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.reg.NumDevices(); i++ {
		wg.Add(1)
		go func(device int) {
			defer wg.Done()
			p.supervise(ctx, device)
		}(i)
	}
	wg.Wait()
}

// supervise restarts the worker loop after a panic with exponential
// backoff, resetting the backoff once a loop runs cleanly.
func (p *Pool) supervise(ctx context.Context, device int) {
	restarts := 0
	for ctx.Err() == nil {
		if !p.loop(ctx, device) {
			return
		}
		restarts++
		workerRestarts.WithLabelValues(strconv.Itoa(device)).Inc()
		backoff := time.Duration(1<<uint(restarts-1)) * time.Second
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
		p.log.Error().Int("device", device).Int("restarts", restarts).
			Dur("backoff", backoff).Msg("worker restarting after panic")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
}

// loop processes jobs until ctx cancels. It reports whether it exited
// because of a panic; a panicked in-flight job is failed and its
// callback delivered before the loop unwinds.
func (p *Pool) loop(ctx context.Context, device int) (panicked bool) {
	var current string
	defer func() {
		if rec := recover(); rec != nil {
			panicked = true
			p.log.Error().Int("device", device).Str("job_id", current).
				Interface("panic", rec).Msg("worker panic")
			if current != "" {
				msg := fmt.Sprintf("internal error: %v", rec)
				if err := p.reg.Fail(current, msg); err == nil {
					p.dispatcher.Deliver(ctx, current)
				}
			}
		}
	}()
	for {
		id, err := p.reg.DequeueNext(ctx)
		if err != nil {
			return false
		}
		current = id
		p.process(ctx, device, id)
		current = ""
	}
}

func (p *Pool) process(ctx context.Context, device int, id string) {
	if err := p.reg.Start(id, device); err != nil {
		p.log.Error().Err(err).Str("job_id", id).Int("device", device).Msg("start job")
		return
	}
	view, err := p.reg.Get(id)
	if err != nil {
		p.log.Error().Err(err).Str("job_id", id).Msg("load job")
		return
	}
	dir, err := p.reg.InputDir(id)
	if err != nil {
		p.log.Error().Err(err).Str("job_id", id).Msg("load job")
		return
	}
	log := p.log.With().Str("job_id", id).Int("device", device).
		Str("model", view.Model).Logger()
	log.Info().Msg("job started")

	sampler := NewSampler(p.provider, device, p.sampleInterval)
	sampled := false
	stopSampler := func() types.GPUStats {
		sampled = true
		return sampler.Stop()
	}
	// The sampler must not outlive the job, panics included.
	defer func() {
		if !sampled {
			sampler.Stop()
		}
	}()

	input := filepath.Join(dir, "input")
	wav := filepath.Join(dir, "audio.wav")
	if err := p.normalizer.Normalize(ctx, input, wav); err != nil {
		stopSampler()
		p.finishFailed(ctx, id, fmt.Errorf("normalize audio: %w", err), dir, log)
		return
	}

	tr, err := p.engine.Transcribe(ctx, wav, view.Model, view.Language, device)
	stats := stopSampler()
	if err != nil {
		p.finishFailed(ctx, id, fmt.Errorf("transcribe: %w", err), dir, log)
		return
	}

	res := &types.Result{
		Text:       tr.Text,
		Segments:   tr.Segments,
		GPU:        stats,
		TokenCount: tr.TokenCount,
	}
	if res.Segments == nil {
		res.Segments = []types.Segment{}
	}
	if err := p.reg.Complete(id, res); err != nil {
		log.Error().Err(err).Msg("complete job")
		return
	}
	log.Info().Int("token_count", res.TokenCount).Msg("job completed")
	p.cleanup(dir, log)
	p.dispatcher.Deliver(ctx, id)
}

func (p *Pool) finishFailed(ctx context.Context, id string, cause error, dir string, log zerolog.Logger) {
	log.Warn().Err(cause).Msg("job failed")
	if err := p.reg.Fail(id, cause.Error()); err != nil {
		log.Error().Err(err).Msg("fail job")
		return
	}
	p.cleanup(dir, log)
	p.dispatcher.Deliver(ctx, id)
}

// cleanup removes the job's upload directory. Failure is logged only;
// the job outcome is already recorded.
func (p *Pool) cleanup(dir string, log zerolog.Logger) {
	if err := os.RemoveAll(dir); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("remove upload dir")
	}
}
