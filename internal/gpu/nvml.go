package gpu

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// nvmlProvider reads device telemetry through NVML.
type nvmlProvider struct {
	count int
}

// NewNVML initializes NVML and detects the device set. It fails when the
// library is unavailable or no devices are present; a node without GPUs
// cannot serve transcriptions.
func NewNVML() (Provider, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml init: %s", nvml.ErrorString(ret))
	}
	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml device count: %s", nvml.ErrorString(ret))
	}
	if count <= 0 {
		return nil, fmt.Errorf("no NVIDIA GPUs detected")
	}
	return &nvmlProvider{count: count}, nil
}

func (p *nvmlProvider) Count() int { return p.count }

func (p *nvmlProvider) Name(index int) string {
	dev, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return fmt.Sprintf("GPU %d", index)
	}
	name, ret := dev.GetName()
	if ret != nvml.SUCCESS || name == "" {
		return fmt.Sprintf("GPU %d", index)
	}
	return name
}

func (p *nvmlProvider) Metrics(index int) Metrics {
	dev, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return Metrics{}
	}
	var m Metrics
	if util, ret := dev.GetUtilizationRates(); ret == nvml.SUCCESS {
		m.UtilPercent = float64(util.Gpu)
	}
	if mem, ret := dev.GetMemoryInfo(); ret == nvml.SUCCESS {
		m.UsedMB = float64(mem.Used) / (1024 * 1024)
		m.TotalMB = float64(mem.Total) / (1024 * 1024)
	}
	return m
}
