package queue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"whisperd/internal/engine"
	"whisperd/internal/gpu"
	"whisperd/pkg/types"
)

type stubNormalizer struct{}

func (stubNormalizer) Normalize(_ context.Context, _, outputPath string) error {
	return os.WriteFile(outputPath, []byte("RIFFwav"), 0o644)
}

type stubTranscriber struct {
	mu      sync.Mutex
	devices []int
	err     error
	block   chan struct{}
}

func (s *stubTranscriber) Transcribe(_ context.Context, _, _, _ string, device int) (*engine.Transcription, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.devices = append(s.devices, device)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &engine.Transcription{
		Text:       "Привет мир",
		Segments:   []types.Segment{{Start: 0, End: 1, Text: "Привет мир"}},
		TokenCount: 3,
	}, nil
}

func (s *stubTranscriber) seen() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.devices))
	copy(out, s.devices)
	return out
}

type callbackSink struct {
	srv *httptest.Server

	mu    sync.Mutex
	views []types.JobView
}

func newCallbackSink() *callbackSink {
	s := &callbackSink{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var v types.JobView
		json.NewDecoder(r.Body).Decode(&v)
		s.mu.Lock()
		s.views = append(s.views, v)
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	return s
}

func (s *callbackSink) take() []types.JobView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.JobView, len(s.views))
	copy(out, s.views)
	return out
}

func uploadDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "job")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "input"), []byte("audio"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return dir
}

func startPool(t *testing.T, r *Registry, tr engine.Transcriber) (*gpu.FakeProvider, context.CancelFunc) {
	t.Helper()
	provider := gpu.NewFake(r.NumDevices(), 8000)
	d := NewDispatcher(r, 5*time.Second, zerolog.Nop())
	pool := NewPool(PoolConfig{
		Registry:       r,
		Provider:       provider,
		Normalizer:     stubNormalizer{},
		Transcriber:    tr,
		Dispatcher:     d,
		SampleInterval: 10 * time.Millisecond,
		Logger:         zerolog.Nop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return provider, cancel
}

func waitTerminal(t *testing.T, r *Registry, id string) types.JobView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		v, err := r.Get(id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if v.Status.Terminal() && (v.Callback.Delivered || v.Callback.Error != nil) {
			return v
		}
		time.Sleep(10 * time.Millisecond)
	}
	v, _ := r.Get(id)
	t.Fatalf("job %s never reached terminal+callback: %+v", id, v)
	return v
}

func TestWorkerProcessesJobEndToEnd(t *testing.T) {
	sink := newCallbackSink()
	defer sink.srv.Close()

	r := NewRegistry(1, 8, allowAll{})
	tr := &stubTranscriber{}
	provider, _ := startPool(t, r, tr)
	provider.Set(0, 60, 2400)

	dir := uploadDir(t)
	id, err := r.Create(Spec{Model: "base", Language: "Russian", CallbackURL: sink.srv.URL, InputDir: dir})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	v := waitTerminal(t, r, id)
	if v.Status != types.JobCompleted {
		t.Fatalf("status=%s error=%v", v.Status, v.Error)
	}
	if v.Result == nil || v.Result.Text != "Привет мир" || v.Result.TokenCount != 3 {
		t.Fatalf("result=%+v", v.Result)
	}
	if v.Result.GPU.Index != 0 || v.Result.GPU.VRAMTotalMB != 8000 {
		t.Fatalf("gpu stats=%+v", v.Result.GPU)
	}
	if !v.Callback.Delivered {
		t.Fatalf("callback=%+v", v.Callback)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("upload dir not cleaned up: %v", err)
	}
	views := sink.take()
	if len(views) != 1 || views[0].JobID != id {
		t.Fatalf("callback payloads=%+v", views)
	}
}

func TestWorkerEngineFailureMarksJobFailed(t *testing.T) {
	sink := newCallbackSink()
	defer sink.srv.Close()

	r := NewRegistry(1, 8, allowAll{})
	tr := &stubTranscriber{err: errors.New("inference crashed")}
	startPool(t, r, tr)

	id, err := r.Create(Spec{Model: "base", Language: "Russian", CallbackURL: sink.srv.URL, InputDir: uploadDir(t)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	v := waitTerminal(t, r, id)
	if v.Status != types.JobFailed {
		t.Fatalf("status=%s", v.Status)
	}
	if v.Error == nil || v.Result != nil {
		t.Fatalf("view=%+v", v)
	}
	views := sink.take()
	if len(views) != 1 || views[0].Status != types.JobFailed {
		t.Fatalf("callback payloads=%+v", views)
	}
}

type countingProvider struct {
	*gpu.FakeProvider
	metricsCalls atomic.Int64
}

func (p *countingProvider) Metrics(index int) gpu.Metrics {
	p.metricsCalls.Add(1)
	return p.FakeProvider.Metrics(index)
}

// panicOnceTranscriber panics on its first call and succeeds afterwards.
type panicOnceTranscriber struct {
	mu       sync.Mutex
	panicked bool
}

func (s *panicOnceTranscriber) Transcribe(_ context.Context, _, _, _ string, _ int) (*engine.Transcription, error) {
	s.mu.Lock()
	first := !s.panicked
	s.panicked = true
	s.mu.Unlock()
	if first {
		panic("device fault")
	}
	return &engine.Transcription{Text: "восстановлен", TokenCount: 1}, nil
}

func TestWorkerPanicFailsJobStopsSamplerAndRestarts(t *testing.T) {
	sink := newCallbackSink()
	defer sink.srv.Close()

	r := NewRegistry(1, 8, allowAll{})
	provider := &countingProvider{FakeProvider: gpu.NewFake(1, 8000)}
	tr := &panicOnceTranscriber{}
	d := NewDispatcher(r, 5*time.Second, zerolog.Nop())
	pool := NewPool(PoolConfig{
		Registry:       r,
		Provider:       provider,
		Normalizer:     stubNormalizer{},
		Transcriber:    tr,
		Dispatcher:     d,
		SampleInterval: 5 * time.Millisecond,
		Logger:         zerolog.Nop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	id, err := r.Create(Spec{Model: "base", Language: "Russian", CallbackURL: sink.srv.URL, InputDir: uploadDir(t)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	v := waitTerminal(t, r, id)
	if v.Status != types.JobFailed || v.Error == nil {
		t.Fatalf("view=%+v", v)
	}
	if !v.Callback.Delivered {
		t.Fatalf("callback=%+v", v.Callback)
	}

	// The job's sampler must stop with the job; no polling after the
	// terminal transition.
	before := provider.metricsCalls.Load()
	time.Sleep(100 * time.Millisecond)
	if after := provider.metricsCalls.Load(); after != before {
		t.Fatalf("sampler still polling after terminal job: before=%d after=%d", before, after)
	}

	// The worker restarts after backoff and serves the next job.
	id2, err := r.Create(Spec{Model: "base", Language: "Russian", CallbackURL: sink.srv.URL, InputDir: uploadDir(t)})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if v2 := waitTerminal(t, r, id2); v2.Status != types.JobCompleted {
		t.Fatalf("after restart: %+v", v2)
	}
}

func TestWorkersUseDistinctDevices(t *testing.T) {
	sink := newCallbackSink()
	defer sink.srv.Close()

	r := NewRegistry(2, 8, allowAll{})
	block := make(chan struct{})
	tr := &stubTranscriber{block: block}
	startPool(t, r, tr)

	a, _ := r.Create(Spec{Model: "base", Language: "Russian", CallbackURL: sink.srv.URL, InputDir: uploadDir(t)})
	b, _ := r.Create(Spec{Model: "base", Language: "Russian", CallbackURL: sink.srv.URL, InputDir: uploadDir(t)})

	// Both workers should pick up a job and hold their device while the
	// engine is blocked.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(r.RunningIDs()) == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := len(r.RunningIDs()); got != 2 {
		t.Fatalf("running=%d, want 2", got)
	}
	devs := r.Devices()
	if devs[0].CurrentJobID == nil || devs[1].CurrentJobID == nil {
		t.Fatalf("devices=%+v", devs)
	}
	close(block)

	for _, id := range []string{a, b} {
		if v := waitTerminal(t, r, id); v.Status != types.JobCompleted {
			t.Fatalf("job %s status=%s", id, v.Status)
		}
	}
	seen := tr.seen()
	if len(seen) != 2 || seen[0] == seen[1] {
		t.Fatalf("devices seen=%v, want two distinct", seen)
	}
}
