package nicapture

import (
	"fmt"
	"io"
	"strings"
)

// FrameRecord is everything known about one finished frame, handed to every
// FrameSink after reduction.
type FrameRecord struct {
	Mode             Mode
	Index            int
	Group            int
	End              float64 // corrected end timestamp, seconds since the epoch
	Overload         bool
	OverloadChannels string
	MissedTrigger    bool
	RestartLatency   float64 // seconds; 0 within a group
	SlowRestart      bool
	Results          []FrameResult

	// Rows holds the per-sample lines of RAW and the per-pixel lines of the
	// imaging modes (for IMAGE_DIFFERENCE, even minus odd).
	Rows [][]float64

	// Partial marks the first frame of an IMAGE_DIFFERENCE pair, which has no
	// output of its own.
	Partial bool

	// Unpaired marks a Partial frame whose partner was never acquired because
	// the run stopped. Its summary line is still written.
	Unpaired bool
}

// FrameSink consumes finished frames.
type FrameSink interface {
	WriteFrame(rec *FrameRecord) error
}

// Values returns the numeric fields of the tab-separated record of the
// LINEAR_REGRESSION and CDS_MULTIPLE modes, in column order. It is nil for
// other modes.
func (rec *FrameRecord) Values() []float64 {
	var fields []func(r *FrameResult) float64
	switch rec.Mode {
	case LinearRegression:
		fields = []func(r *FrameResult) float64{
			func(r *FrameResult) float64 { return r.BDx },
			func(r *FrameResult) float64 { return r.A },
			func(r *FrameResult) float64 { return r.B },
			func(r *FrameResult) float64 { return r.S },
			func(r *FrameResult) float64 { return r.SeA },
			func(r *FrameResult) float64 { return r.SeB },
			func(r *FrameResult) float64 { return r.R },
			func(r *FrameResult) float64 { return r.Min },
			func(r *FrameResult) float64 { return r.Max },
		}
	case CDSMultiple:
		fields = []func(r *FrameResult) float64{
			func(r *FrameResult) float64 { return r.CDSDelta },
			func(r *FrameResult) float64 { return r.CDSError },
			func(r *FrameResult) float64 { return r.Min },
			func(r *FrameResult) float64 { return r.Max },
		}
	default:
		return nil
	}
	v := make([]float64, 0, 4+len(fields)*len(rec.Results))
	v = append(v, float64(rec.Index), rec.End, b2f(rec.Overload), b2f(rec.MissedTrigger))
	for _, f := range fields {
		for c := range rec.Results {
			v = append(v, f(&rec.Results[c]))
		}
	}
	return v
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// HeaderInfo carries the values read back from the configured task.
type HeaderInfo struct {
	RunID        string
	SampleRate   float64
	VoltageRange float64
	Gain         float64
}

// Formatter renders the text output stream: a header block, then per frame
// a summary line and the mode's data record. It also renders raw-dump lines.
type Formatter struct {
	w   io.Writer
	cfg *AcquisitionConfig
}

// NewFormatter returns a Formatter writing to w.
func NewFormatter(w io.Writer, cfg *AcquisitionConfig) *Formatter {
	return &Formatter{w: w, cfg: cfg}
}

var dataFormats = map[Mode]string{
	LinearRegression: "#Data Format for lin_reg is: frame_number, end_timestamp, overload_occurred, missed_trigger, b_Dx (0,1,2,3), a (0,1,2,3), b (0,1,2,3), s (0,1,2,3), se_a (0,1,2,3), se_b (0,1,2,3), r (0,1,2,3), min (0,1,2,3), max (0,1,2,3)",
	CDSMultiple:      "#Data Format for cds_m is: frame_number, end_timestamp, overload_occurred, missed_trigger, D_cds (0,1,2,3), se_b_cds (0,1,2,3), min (0,1,2,3), max (0,1,2,3)",
	Raw:              "#Data Format for raw is: data_0, data_1, data_2, data_3",
	Image:            "#Data Format for image is: quad_0, quad_1, quad_2, quad_3",
	ImageDifference:  "#Data Format for image_differential is: quad_0_{frame_even - frame_odd}, quad_1_{frame_even - frame_odd}, quad_2_{frame_even - frame_odd}, quad_3_{frame_even - frame_odd}",
}

// WriteHeader writes the `#key: value` block and the data format line.
func (f *Formatter) WriteHeader(info HeaderInfo) error {
	cfg := f.cfg
	frames := "cont"
	if cfg.MaxFrames != -1 {
		frames = fmt.Sprintf("%d", cfg.MaxFrames)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "#Data from       %s:\n", DevName)
	if info.RunID != "" {
		fmt.Fprintf(&b, "#run_id:         %s\n", info.RunID)
	}
	fmt.Fprintf(&b, "#mode:           %s\n", cfg.Mode)
	fmt.Fprintf(&b, "#freq_hz:        %.3f\n", info.SampleRate)
	fmt.Fprintf(&b, "#interval_s:     %4.9f\n", cfg.SampleInterval)
	fmt.Fprintf(&b, "#samples:        %d\n", cfg.Samples)
	fmt.Fprintf(&b, "#frames:         %s\n", frames)
	fmt.Fprintf(&b, "#group_size:     %d\n", cfg.GroupSize)
	fmt.Fprintf(&b, "#group_interval: %d\n", cfg.GroupInterval)
	fmt.Fprintf(&b, "#guard_pre:  %d\n", cfg.GuardPre)
	fmt.Fprintf(&b, "#guard_post: %d\n", cfg.GuardPost)
	if cfg.Mode.Imaging() {
		fmt.Fprintf(&b, "#pixels:         %d\n", cfg.Pixels)
		fmt.Fprintf(&b, "#guard_int:      %d\n", cfg.GuardInternal)
	}
	if cfg.Mode == CDSMultiple {
		fmt.Fprintf(&b, "#cds_m_num:      %d\n", cfg.CDSHalfWidth)
	}
	fmt.Fprintf(&b, "#channels:   %s\n", InputChannels)
	fmt.Fprintf(&b, "#voltage:    %.3f\n", info.VoltageRange)
	fmt.Fprintf(&b, "#gain:       %.1f\n", info.Gain)
	fmt.Fprintf(&b, "#coupling:   %s\n", cfg.Coupling)
	fmt.Fprintf(&b, "#terminal:   %s\n", cfg.Terminal)
	fmt.Fprintf(&b, "#trigger:    %s\n", cfg.TriggerEdge)
	fmt.Fprintf(&b, "#trigger_compensation:   %d\n", cfg.TriggerCompensation())
	fmt.Fprintf(&b, "#trigger_compensation_s: %f\n", cfg.TriggerCompensationSeconds())
	fmt.Fprintln(&b, dataFormats[cfg.Mode])
	_, err := io.WriteString(f.w, b.String())
	return err
}

// RawTuple writes one raw-dump line "#=frame,sample:\tv0\tv1\tv2\tv3".
func (f *Formatter) RawTuple(frame, sample int, values []float64) error {
	var b strings.Builder
	fmt.Fprintf(&b, "#=%d,%d:", frame, sample)
	for _, v := range values {
		fmt.Fprintf(&b, "\t% .9f", v)
	}
	b.WriteByte('\n')
	_, err := io.WriteString(f.w, b.String())
	return err
}

func flag(set bool, yes, no string) string {
	if set {
		return yes
	}
	return no
}

// SummaryLine renders the human-readable "#Frame:" line for rec.
func (f *Formatter) SummaryLine(rec *FrameRecord) string {
	res := rec.Results
	var b strings.Builder
	fmt.Fprintf(&b, "#Frame: %4d; Endtime: %.9f; ", rec.Index, rec.End)
	column := func(label string, scale float64, get func(r *FrameResult) float64) []float64 {
		vals := make([]float64, len(res))
		b.WriteString(label)
		b.WriteString(": ")
		for c := range res {
			vals[c] = get(&res[c])
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "% f", vals[c]*scale)
		}
		b.WriteString("; ")
		return vals
	}
	sum := func(x []float64) float64 {
		t := 0.0
		for _, v := range x {
			t += v
		}
		return t
	}

	switch rec.Mode {
	case LinearRegression, CDSMultiple:
		delta := func(r *FrameResult) float64 { return r.BDx }
		se := func(r *FrameResult) float64 { return r.SeB }
		if rec.Mode == CDSMultiple {
			delta = func(r *FrameResult) float64 { return r.CDSDelta }
			se = func(r *FrameResult) float64 { return r.CDSError }
		}
		// The error columns are the slope error scaled by n.
		n := 0.0
		if len(res) > 0 {
			n = float64(res[0].N)
		}
		d := column("Delta_uV", 1e6, delta)
		e := column("Error_uV", n*1e6, se)
		fmt.Fprintf(&b, "Total_uV: %f +/- %f; ", sum(d)*1e6, quadrature(e...)*n*1e6)
	default:
		m := column("Means_uV", 1e6, func(r *FrameResult) float64 { return r.Mean })
		s := column("StdDev_uV", 1e6, func(r *FrameResult) float64 { return r.StdDev })
		fmt.Fprintf(&b, "Overall_uV: %f +/- %f; ", sum(m)*1e6, quadrature(s...)*1e6)
	}
	fmt.Fprintf(&b, "Ovload: %s; MissTrig: %s", flag(rec.Overload, "OVL", "OK"), flag(rec.MissedTrigger, "MISS", "OK"))
	return b.String()
}

// RecordLines renders the parseable data record of rec.
func (f *Formatter) RecordLines(rec *FrameRecord) string {
	var b strings.Builder
	switch rec.Mode {
	case LinearRegression, CDSMultiple:
		v := rec.Values()
		fmt.Fprintf(&b, "%d\t%f\t%d\t%d", rec.Index, rec.End, b2i(rec.Overload), b2i(rec.MissedTrigger))
		for _, x := range v[4:] {
			fmt.Fprintf(&b, "\t%.9f", x)
		}
		b.WriteByte('\n')
	default:
		for _, row := range rec.Rows {
			for c, x := range row {
				if c > 0 {
					b.WriteByte('\t')
				}
				fmt.Fprintf(&b, "%.9f", x)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// WriteFrame writes the summary line and the record of rec. Partial records
// write nothing, except that an unpaired one writes its summary line.
func (f *Formatter) WriteFrame(rec *FrameRecord) error {
	if rec.Unpaired {
		_, err := io.WriteString(f.w, f.SummaryLine(rec)+"\n")
		return err
	}
	if rec.Partial {
		return nil
	}
	_, err := io.WriteString(f.w, f.SummaryLine(rec)+"\n"+f.RecordLines(rec))
	return err
}
