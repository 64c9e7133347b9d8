package nicapture

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Device properties of the NI 4462.
const (
	DevName                 = "NI4462"
	DevNumChannels          = 4
	DevFreqMin              = 32.0
	DevFreqMax              = 204800.0
	DevSamplesMin           = 2
	DevSamplesMax           = 16777215 // 2^24 - 1, largest finite task
	DevPretriggerSamplesMin = 2
	DevFilterDelaySamples   = 63 // ADC filter group delay with low-frequency alias rejection off
	InputChannels           = "ai0:3"
)

// VoltageRanges lists the valid +/- input ranges in volts.
var VoltageRanges = []float64{0.316, 1.0, 3.16, 10.0}

// Defaults for the acquisition parameters.
const (
	DefaultSampleRate         = 204800.0
	DefaultSamples            = 1000
	DefaultMaxFrames          = -1 // run until stopped
	DefaultGroupSize          = 1
	DefaultGroupInterval      = 0
	DefaultVoltageRange       = 0.316
	DefaultGuardPre           = 1
	DefaultGuardPost          = 1
	DefaultGuardInternal      = 1
	DefaultCDSHalfWidth       = 10
	DefaultBufferTuples       = 25000
	DefaultMissedTriggerRatio = 1.3
	DefaultSlowTaskRestart    = 2 * time.Millisecond
)

// Mode selects the per-frame reduction.
type Mode int

// Names for the analysis modes
const (
	Raw Mode = iota
	LinearRegression
	CDSMultiple
	Image
	ImageDifference
)

var modeNames = map[Mode]string{
	Raw:              "raw",
	LinearRegression: "lin_reg",
	CDSMultiple:      "cds_multiple",
	Image:            "image",
	ImageDifference:  "image_diff",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Imaging is true for the modes that bin samples into pixels.
func (m Mode) Imaging() bool {
	return m == Image || m == ImageDifference
}

// ParseMode converts a command-line mode name (case insensitive) to a Mode.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(name) {
	case "raw":
		return Raw, nil
	case "lin_reg", "linreg":
		return LinearRegression, nil
	case "cds_multiple":
		return CDSMultiple, nil
	case "image":
		return Image, nil
	case "image_diff":
		return ImageDifference, nil
	}
	return Raw, &ConfigurationError{Param: "mode",
		Msg: fmt.Sprintf("illegal mode %q; can be: raw, lin_reg, cds_multiple, image, image_diff", name)}
}

// Coupling is the analog input coupling.
type Coupling int

// Coupling choices
const (
	CouplingDC Coupling = iota
	CouplingAC
)

func (c Coupling) String() string {
	if c == CouplingAC {
		return "ac"
	}
	return "dc"
}

// TerminalMode is the analog input terminal configuration.
type TerminalMode int

// Terminal configurations
const (
	Differential TerminalMode = iota
	PseudoDifferential
)

func (t TerminalMode) String() string {
	if t == PseudoDifferential {
		return "pseudodifferential"
	}
	return "differential"
}

// Edge is a trigger or clock edge.
type Edge int

// Edges
const (
	Falling Edge = iota
	Rising
)

func (e Edge) String() string {
	if e == Rising {
		return "rising"
	}
	return "falling"
}

// Params holds the user-level acquisition choices before validation. Start
// from DefaultParams; NewAcquisitionConfig fills in only BufferTuples,
// MissedTriggerRatio and SlowTaskRestart when they are zero. The *Set
// booleans record whether an option was given explicitly, because some
// options are only legal in some modes.
type Params struct {
	Mode               Mode
	SampleRate         float64
	VoltageRange       float64
	Coupling           Coupling
	Terminal           TerminalMode
	TriggerEdge        Edge
	ClockEdge          Edge
	Samples            int
	MaxFrames          int
	GroupSize          int
	GroupInterval      int
	GuardPre           int
	GuardPost          int
	GuardInternal      int
	GuardInternalSet   bool
	CDSHalfWidth       int
	CDSHalfWidthSet    bool
	Pixels             int
	PixelsSet          bool
	DumpRaw            bool
	Strict             bool
	TriggerReadyFile   string
	BufferTuples       int
	MissedTriggerRatio float64
	SlowTaskRestart    time.Duration
}

// DefaultParams returns the Params used when no options are given.
func DefaultParams() Params {
	return Params{
		Mode:               LinearRegression,
		SampleRate:         DefaultSampleRate,
		VoltageRange:       DefaultVoltageRange,
		Coupling:           CouplingDC,
		Terminal:           Differential,
		TriggerEdge:        Falling,
		ClockEdge:          Rising,
		Samples:            DefaultSamples,
		MaxFrames:          DefaultMaxFrames,
		GroupSize:          DefaultGroupSize,
		GroupInterval:      DefaultGroupInterval,
		GuardPre:           DefaultGuardPre,
		GuardPost:          DefaultGuardPost,
		GuardInternal:      DefaultGuardInternal,
		CDSHalfWidth:       DefaultCDSHalfWidth,
		BufferTuples:       DefaultBufferTuples,
		MissedTriggerRatio: DefaultMissedTriggerRatio,
		SlowTaskRestart:    DefaultSlowTaskRestart,
	}
}

// AcquisitionConfig is the validated, read-only configuration for one run.
// Construct it only with NewAcquisitionConfig and never modify it afterwards;
// the Scheduler, the Router and the TimingMonitor all share one instance.
type AcquisitionConfig struct {
	Params
	Channels           int
	PretriggerSamples  int
	FilterDelaySamples int
	SampleInterval     float64 // seconds
}

// NewAcquisitionConfig validates p and returns the run configuration, or a
// *ConfigurationError naming the first violated constraint.
func NewAcquisitionConfig(p Params) (*AcquisitionConfig, error) {
	if p.BufferTuples <= 0 {
		p.BufferTuples = DefaultBufferTuples
	}
	if p.MissedTriggerRatio <= 0 {
		p.MissedTriggerRatio = DefaultMissedTriggerRatio
	}
	if p.SlowTaskRestart <= 0 {
		p.SlowTaskRestart = DefaultSlowTaskRestart
	}
	cfg := &AcquisitionConfig{
		Params:             p,
		Channels:           DevNumChannels,
		PretriggerSamples:  DevPretriggerSamplesMin,
		FilterDelaySamples: DevFilterDelaySamples,
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.SampleInterval = 1.0 / cfg.SampleRate
	if cfg.Mode == CDSMultiple && cfg.CDSHalfWidth == 1 {
		ProblemLogger.Printf("Warning: CDS with multiple reads, with M = 1: variances will be NaNs")
	}
	return cfg, nil
}

func configErr(param, format string, args ...any) error {
	return &ConfigurationError{Param: param, Msg: fmt.Sprintf(format, args...)}
}

func (cfg *AcquisitionConfig) validate() error {
	if _, ok := modeNames[cfg.Mode]; !ok {
		return configErr("mode", "unknown mode %d", int(cfg.Mode))
	}
	if cfg.SampleRate < DevFreqMin || cfg.SampleRate > DevFreqMax {
		return configErr("freq", "sample rate must be between %f and %f Hz", DevFreqMin, DevFreqMax)
	}
	validRange := false
	for _, v := range VoltageRanges {
		if cfg.VoltageRange == v {
			validRange = true
		}
	}
	if !validRange {
		return configErr("voltage", "voltage range must be set to +/-V where V is in %v", VoltageRanges)
	}
	if cfg.GroupSize <= 0 {
		return configErr("group_size", "group_size must be > 0")
	}
	if cfg.GroupInterval < 0 {
		return configErr("group_interval", "group_interval must be >= 0")
	}
	if cfg.MaxFrames == 0 || cfg.MaxFrames < -1 {
		return configErr("max_frames", "max frames must be > 0 (or -1 for continuous)")
	}
	switch {
	case cfg.Samples < DevSamplesMin:
		return configErr("samples", "number of samples per frame must be >= %d", DevSamplesMin)
	case cfg.Samples > DevSamplesMax:
		return configErr("samples", "number of samples per frame must be <= %d", DevSamplesMax)
	}
	if cfg.GuardPre < 0 || cfg.GuardPost < 0 || cfg.GuardInternal < 0 {
		return configErr("guard", "guard counts must be >= 0 (pre %d, post %d, internal %d)",
			cfg.GuardPre, cfg.GuardPost, cfg.GuardInternal)
	}
	if min := cfg.GuardPre + cfg.GuardPost + cfg.FilterDelaySamples + cfg.PretriggerSamples; cfg.Samples < min {
		return configErr("samples",
			"not enough samples. N must exceed guard_pre + guard_post + FILTER_DELAY + PRETRIGGER. Current values are: %d, %d, %d, %d, %d",
			cfg.Samples, cfg.GuardPre, cfg.GuardPost, cfg.FilterDelaySamples, cfg.PretriggerSamples)
	}
	if cfg.Samples-(cfg.GuardPre+cfg.GuardPost) < 3 {
		return configErr("samples", "number of samples per frame (excluding guard_pre/guard_post) must be 3 or more")
	}
	if cfg.MaxFrames != -1 && cfg.MaxFrames%cfg.GroupSize != 0 {
		return configErr("max_frames", "finite number of frames (%d) must be an exact multiple of the group size (%d)",
			cfg.MaxFrames, cfg.GroupSize)
	}
	if spg := cfg.SamplesPerGroup(); spg > DevSamplesMax {
		return configErr("group_size", "too many samples per group. Value %d exceeds max number of samples per task, %d",
			spg, DevSamplesMax)
	}
	if cfg.Mode != CDSMultiple && cfg.CDSHalfWidthSet {
		return configErr("cds_m", "CDS half-width given without setting mode to 'cds_multiple'")
	}
	if cfg.Mode == CDSMultiple {
		if cfg.CDSHalfWidth < 1 {
			return configErr("cds_m", "CDS half-width must be >= 1")
		}
		if cfg.Samples-cfg.GuardPre-cfg.GuardPost < 2*cfg.CDSHalfWidth {
			return configErr("cds_m", "number of samples per frame, excluding guard_pre/guard_post, must be at least 2 * number of multiple-reads")
		}
	}
	if !cfg.Mode.Imaging() && cfg.GuardInternalSet {
		return configErr("guard_internal", "internal guard given without setting mode to 'image' or 'image_diff'")
	}
	if cfg.Mode.Imaging() {
		if !cfg.PixelsSet || cfg.Pixels <= 0 {
			return configErr("pixels", "pixel count (> 0) required in mode 'image' or 'image_diff'")
		}
		if cfg.GuardPre+cfg.Pixels+(cfg.Pixels-1)*cfg.GuardInternal+cfg.GuardPost != cfg.Samples {
			return configErr("pixels",
				"in imaging mode, must satisfy: samples_per_frame = guard_pre + pixels + ((pixels - 1) * guard_internal) + guard_post. Current values: samples_per_frame=%d, guard_pre=%d, guard_internal=%d, guard_post=%d, pixels=%d",
				cfg.Samples, cfg.GuardPre, cfg.GuardInternal, cfg.GuardPost, cfg.Pixels)
		}
	}
	if cfg.Mode == ImageDifference && cfg.MaxFrames != -1 && cfg.MaxFrames%2 != 0 {
		return configErr("max_frames", "in differential imaging mode, number of frames must be even")
	}
	if cfg.TriggerReadyFile != "" {
		info, err := os.Stat(cfg.TriggerReadyFile)
		if err != nil {
			return configErr("trigger_file", "trigger-ready signal-file '%s' doesn't exist. It must be pre-created (empty) by the external process", cfg.TriggerReadyFile)
		}
		if info.Size() > 0 {
			return configErr("trigger_file", "trigger-ready signal-file '%s' isn't empty. Will not delete something containing data", cfg.TriggerReadyFile)
		}
	}
	return nil
}

// SamplesPerGroup is the total number of samples per channel that one
// hardware task must acquire: N*group_size + group_interval*(group_size-1).
func (cfg *AcquisitionConfig) SamplesPerGroup() int {
	return cfg.Samples*cfg.GroupSize + cfg.GroupInterval*(cfg.GroupSize-1)
}

// DataCount is the number of samples per channel that survive guard removal
// in each frame: the pixel count in imaging modes, N - guard_pre - guard_post otherwise.
func (cfg *AcquisitionConfig) DataCount() int {
	if cfg.Mode.Imaging() {
		return cfg.Pixels
	}
	return cfg.Samples - cfg.GuardPre - cfg.GuardPost
}

// TriggerCompensation is how many sample periods "back in time" the data
// start relative to the trigger edge (pretrigger plus ADC filter delay).
func (cfg *AcquisitionConfig) TriggerCompensation() int {
	return cfg.PretriggerSamples + cfg.FilterDelaySamples
}

// TriggerCompensationSeconds is TriggerCompensation in seconds.
func (cfg *AcquisitionConfig) TriggerCompensationSeconds() float64 {
	return float64(cfg.TriggerCompensation()) * cfg.SampleInterval
}

// Summary is the one-line configuration description logged before acquisition.
func (cfg *AcquisitionConfig) Summary() string {
	s := fmt.Sprintf("Configuration: Mode: %s,  FreqHz: %f,  Frames: %d,  SampsPerFrame: %d,  GroupSize: %d",
		cfg.Mode, cfg.SampleRate, cfg.MaxFrames, cfg.Samples, cfg.GroupSize)
	switch {
	case cfg.Mode == CDSMultiple:
		s += fmt.Sprintf(",  Num_CDSm: %d", cfg.CDSHalfWidth)
	case cfg.Mode.Imaging():
		s += fmt.Sprintf(",  Pixels %d", cfg.Pixels)
	}
	s += fmt.Sprintf(",  GuardPre: %d, GuardPost: %d", cfg.GuardPre, cfg.GuardPost)
	if cfg.Mode.Imaging() {
		s += fmt.Sprintf(",  GuardInt: %d", cfg.GuardInternal)
	}
	return s
}
