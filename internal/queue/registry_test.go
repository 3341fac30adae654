package queue

import (
	"context"
	"testing"
	"time"

	"whisperd/internal/events"
	"whisperd/pkg/types"
)

type allowAll struct{}

func (allowAll) ReadyModel(string) bool { return true }

type allowNone struct{}

func (allowNone) ReadyModel(string) bool { return false }

func spec(model string) Spec {
	return Spec{Model: model, Language: "Russian", CallbackURL: "http://cb.local/hook", InputDir: "/tmp/x"}
}

func TestCreateValidation(t *testing.T) {
	r := NewRegistry(1, 8, allowAll{})

	cases := []struct {
		name string
		s    Spec
	}{
		{"missing model", Spec{CallbackURL: "http://cb", InputDir: "/tmp/x"}},
		{"missing callback", Spec{Model: "base", InputDir: "/tmp/x"}},
		{"missing input", Spec{Model: "base", CallbackURL: "http://cb"}},
	}
	for _, tc := range cases {
		if _, err := r.Create(tc.s); !IsInvalidRequest(err) {
			t.Errorf("%s: err=%v, want invalid request", tc.name, err)
		}
	}

	rn := NewRegistry(1, 8, allowNone{})
	if _, err := rn.Create(spec("base")); !IsModelUnavailable(err) {
		t.Fatalf("err=%v, want model unavailable", err)
	}
}

func TestDequeueIsFIFO(t *testing.T) {
	r := NewRegistry(2, 8, allowAll{})
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := r.Create(spec("base"))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, id)
	}
	ctx := context.Background()
	for i, want := range ids {
		got, err := r.DequeueNext(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if got != want {
			t.Fatalf("dequeue %d: got %s want %s", i, got, want)
		}
	}
}

func TestDequeueBlocksUntilCancel(t *testing.T) {
	r := NewRegistry(1, 8, allowAll{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := r.DequeueNext(ctx); err != context.DeadlineExceeded {
		t.Fatalf("err=%v, want deadline exceeded", err)
	}
}

func TestQueueFullRejectsWithoutRecord(t *testing.T) {
	r := NewRegistry(1, 1, allowAll{})
	if _, err := r.Create(spec("base")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := r.Create(spec("base")); !IsQueueFull(err) {
		t.Fatalf("err=%v, want queue full", err)
	}
	if c := r.Counts(); c.Total != 1 {
		t.Fatalf("total=%d, rejected submission left a record", c.Total)
	}
}

func TestLifecycleTransitionsAndDeviceBinding(t *testing.T) {
	r := NewRegistry(2, 8, allowAll{})
	id, err := r.Create(spec("base"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := r.Complete(id, &types.Result{}); err == nil {
		t.Fatal("complete on queued job must fail")
	}
	if err := r.Start(id, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Start(id, 0); err == nil {
		t.Fatal("second start must fail")
	}

	devs := r.Devices()
	if devs[1].CurrentJobID == nil || *devs[1].CurrentJobID != id {
		t.Fatalf("device 1 not bound: %+v", devs[1])
	}
	if devs[1].CurrentModel == nil || *devs[1].CurrentModel != "base" {
		t.Fatalf("device 1 model: %+v", devs[1])
	}
	if devs[0].CurrentJobID != nil {
		t.Fatalf("device 0 unexpectedly bound: %+v", devs[0])
	}

	if err := r.Complete(id, &types.Result{Text: "ok"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := r.Fail(id, "late"); err == nil {
		t.Fatal("transition out of terminal state must fail")
	}
	if devs = r.Devices(); devs[1].CurrentJobID != nil {
		t.Fatalf("device 1 not released: %+v", devs[1])
	}
	r.mu.RLock()
	boundTo := r.jobs[id].device
	r.mu.RUnlock()
	if boundTo != -1 {
		t.Fatalf("terminal job still holds device index %d", boundTo)
	}

	v, err := r.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.Status != types.JobCompleted || v.Result == nil || v.Result.Text != "ok" {
		t.Fatalf("view=%+v", v)
	}
}

func TestDeviceBusyRejectsSecondStart(t *testing.T) {
	r := NewRegistry(1, 8, allowAll{})
	a, _ := r.Create(spec("base"))
	b, _ := r.Create(spec("base"))
	if err := r.Start(a, 0); err != nil {
		t.Fatalf("start a: %v", err)
	}
	if err := r.Start(b, 0); err == nil {
		t.Fatal("start on busy device must fail")
	}
}

func TestFailStoresError(t *testing.T) {
	r := NewRegistry(1, 8, allowAll{})
	id, _ := r.Create(spec("base"))
	if err := r.Start(id, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Fail(id, "engine exploded"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	v, _ := r.Get(id)
	if v.Status != types.JobFailed || v.Error == nil || *v.Error != "engine exploded" {
		t.Fatalf("view=%+v", v)
	}
	if v.Result != nil {
		t.Fatalf("failed job must have no result: %+v", v.Result)
	}
}

func TestRecordCallbackExactlyOnce(t *testing.T) {
	r := NewRegistry(1, 8, allowAll{})
	id, _ := r.Create(spec("base"))

	at := int64(123)
	if err := r.RecordCallback(id, true, &at, nil); err == nil {
		t.Fatal("record on non-terminal job must fail")
	}

	r.Start(id, 0)
	r.Complete(id, &types.Result{})
	if err := r.RecordCallback(id, true, &at, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := r.RecordCallback(id, false, nil, nil); err == nil {
		t.Fatal("second record must be refused")
	}

	v, _ := r.Get(id)
	if !v.Callback.Delivered || v.Callback.DeliveredAtMS == nil || *v.Callback.DeliveredAtMS != at {
		t.Fatalf("callback=%+v", v.Callback)
	}
}

func TestUnknownJobIsNotFound(t *testing.T) {
	r := NewRegistry(1, 8, allowAll{})
	if _, err := r.Get("nope"); !IsNotFound(err) {
		t.Fatalf("err=%v, want not found", err)
	}
	if err := r.Start("nope", 0); !IsNotFound(err) {
		t.Fatalf("err=%v, want not found", err)
	}
}

func TestCountsAndListings(t *testing.T) {
	r := NewRegistry(2, 8, allowAll{})
	a, _ := r.Create(spec("base"))
	b, _ := r.Create(spec("base"))
	c, _ := r.Create(spec("base"))
	r.Start(a, 0)
	r.Start(b, 1)
	r.Complete(a, &types.Result{})

	counts := r.Counts()
	if counts.Total != 3 || counts.Queued != 1 || counts.Running != 1 {
		t.Fatalf("counts=%+v", counts)
	}
	if got := r.QueuedIDs(); len(got) != 1 || got[0] != c {
		t.Fatalf("queued=%v", got)
	}
	if got := r.RunningIDs(); len(got) != 1 || got[0] != b {
		t.Fatalf("running=%v", got)
	}
}

func TestLifecycleEventsPublished(t *testing.T) {
	r := NewRegistry(1, 8, allowAll{})
	pub := events.NewMemoryPublisher()
	r.SetPublisher(pub)

	id, _ := r.Create(spec("base"))
	r.Start(id, 0)
	r.Complete(id, &types.Result{})

	want := []string{events.JobQueued, events.JobStarted, events.JobCompleted}
	got := pub.Names()
	if len(got) != len(want) {
		t.Fatalf("events=%v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events=%v, want %v", got, want)
		}
	}
}

func TestIDsAreUnique(t *testing.T) {
	r := NewRegistry(1, 64, allowAll{})
	seen := map[string]bool{}
	for i := 0; i < 32; i++ {
		id, err := r.Create(spec("base"))
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
