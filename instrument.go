package nicapture

import (
	"context"
	"time"
)

// ReadAuto requests all samples immediately available, limited by the buffer.
const ReadAuto = -1

// WaitInfinitely makes a Read block until the requested count is available
// (or its context is canceled).
const WaitInfinitely time.Duration = -1

// SampleMode selects a finite or continuous sample clock.
type SampleMode int

// Sample clock modes
const (
	FiniteSamples SampleMode = iota
	ContinuousSamples
)

// Instrument is the part of the vendor driver that the capture loop needs.
type Instrument interface {
	CreateTask(name string) (Task, error)
	ErrorString(code int) string
	IsFatal(code int) bool
}

// Task is one configured acquisition task on the instrument. All Task errors
// should be of type *HardwareError. A Task is owned by one goroutine.
type Task interface {
	ConfigureChannels(rangeV float64, coupling Coupling, terminal TerminalMode) error
	ConfigureTrigger(edge Edge, pretrigger int) error
	// ConfigureClock sets the sample clock (total samples per channel, for
	// FiniteSamples) and returns the rate actually coerced by the hardware.
	ConfigureClock(rate float64, edge Edge, mode SampleMode, total int) (float64, error)
	Commit() error
	Start() error
	Stop() error
	Clear() error

	// Read fills buf with channel-interleaved scans (grouped by scan number)
	// and returns how many scans were read. With count == ReadAuto and a zero
	// timeout it never blocks and may return 0. With count > 0 and timeout ==
	// WaitInfinitely it blocks until exactly count scans are available.
	Read(ctx context.Context, count int, timeout time.Duration, buf []float64) (int, error)

	// OverloadOccurred reports whether any channel overloaded since the last
	// call. Reading the flag clears it.
	OverloadOccurred() (bool, error)
	// OverloadChannels names the overloaded channels. Only meaningful
	// right after OverloadOccurred returned true.
	OverloadChannels() (string, error)

	VoltageRange() (float64, error)
	Gain() (float64, error)
}
