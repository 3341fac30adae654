package queue

import (
	"testing"
	"time"

	"whisperd/internal/gpu"
)

func TestSamplerAggregatesAvgAndMax(t *testing.T) {
	p := gpu.NewFake(1, 8000)
	p.Set(0, 40, 1000)
	s := NewSampler(p, 0, 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)
	p.Set(0, 80, 3000)
	time.Sleep(25 * time.Millisecond)
	st := s.Stop()

	if st.Index != 0 {
		t.Fatalf("index=%d", st.Index)
	}
	if st.UtilMaxPercent != 80 {
		t.Fatalf("util max=%v", st.UtilMaxPercent)
	}
	if st.UtilAvgPercent < 40 || st.UtilAvgPercent > 80 {
		t.Fatalf("util avg=%v", st.UtilAvgPercent)
	}
	if st.VRAMTotalMB != 8000 || st.VRAMUsedMaxMB != 3000 {
		t.Fatalf("vram: %+v", st)
	}
	if st.VRAMUsedPercentMax != 100*3000/8000 {
		t.Fatalf("vram pct max=%v", st.VRAMUsedPercentMax)
	}
}

func TestSamplerStopBeforeFirstTickTakesOneReading(t *testing.T) {
	p := gpu.NewFake(1, 8000)
	p.Set(0, 55, 2000)
	s := NewSampler(p, 0, time.Hour)
	st := s.Stop()

	if st.UtilAvgPercent != 55 || st.UtilMaxPercent != 55 {
		t.Fatalf("util: %+v", st)
	}
	if st.VRAMUsedAvgMB != 2000 || st.VRAMTotalMB != 8000 {
		t.Fatalf("vram: %+v", st)
	}
}
