package gpu

import (
	"fmt"
	"sync"
)

// FakeProvider is a synthetic device set for development and tests.
type FakeProvider struct {
	mu      sync.Mutex
	n       int
	totalMB float64
	util    map[int]float64
	usedMB  map[int]float64
}

// NewFake returns a provider with n devices of totalMB capacity each.
func NewFake(n int, totalMB float64) *FakeProvider {
	return &FakeProvider{
		n:       n,
		totalMB: totalMB,
		util:    make(map[int]float64),
		usedMB:  make(map[int]float64),
	}
}

func (p *FakeProvider) Count() int { return p.n }

func (p *FakeProvider) Name(index int) string { return fmt.Sprintf("Fake GPU %d", index) }

func (p *FakeProvider) Metrics(index int) Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Metrics{
		UtilPercent: p.util[index],
		UsedMB:      p.usedMB[index],
		TotalMB:     p.totalMB,
	}
}

// Set installs a reading that subsequent Metrics calls return.
func (p *FakeProvider) Set(index int, utilPercent, usedMB float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.util[index] = utilPercent
	p.usedMB[index] = usedMB
}
