// Package gpu abstracts accelerator detection and telemetry behind a small
// Provider interface so the scheduling core never talks to NVML directly.
package gpu

// Metrics is one instantaneous device reading.
type Metrics struct {
	UtilPercent float64
	UsedMB      float64
	TotalMB     float64
}

// Provider reports the detected device set and per-device telemetry.
type Provider interface {
	// Count returns the number of detected devices. The set is fixed for
	// the process lifetime.
	Count() int
	// Name returns a human-readable device name.
	Name(index int) string
	// Metrics returns a current reading for the device. Implementations
	// return a zero reading rather than failing on transient errors.
	Metrics(index int) Metrics
}
