package nicapture

import (
	"fmt"
	"time"
)

// TimingMonitor timestamps frames and watches the timing of group ends and
// task restarts for anomalies. The reference interval is kept for the run.
type TimingMonitor struct {
	compensation float64 // seconds
	ratio        float64
	slow         time.Duration

	groups       int
	lastGroupEnd time.Time
	reference    time.Duration
}

// NewTimingMonitor makes the monitor for cfg.
func NewTimingMonitor(cfg *AcquisitionConfig) *TimingMonitor {
	return &TimingMonitor{
		compensation: cfg.TriggerCompensationSeconds(),
		ratio:        cfg.MissedTriggerRatio,
		slow:         cfg.SlowTaskRestart,
	}
}

// CorrectTimestamp converts a wall-clock end-of-frame time to seconds since
// the epoch, moved back by the pretrigger and filter delay.
func (tm *TimingMonitor) CorrectTimestamp(t time.Time) float64 {
	return float64(t.UnixNano())*1e-9 - tm.compensation
}

// GroupEnded records the end time of the next group. The interval between the
// first two groups is the reference; any later interval that differs from it
// by more than the ratio in either direction is reported as missed.
func (tm *TimingMonitor) GroupEnded(t time.Time) (missed bool, interval, reference time.Duration) {
	tm.groups++
	if tm.groups > 1 {
		interval = t.Sub(tm.lastGroupEnd)
	}
	tm.lastGroupEnd = t
	switch {
	case tm.groups == 2:
		tm.reference = interval
	case tm.groups > 2 && tm.reference > 0 && interval > 0:
		r := float64(interval) / float64(tm.reference)
		missed = r > tm.ratio || 1/r > tm.ratio
	}
	return missed, interval, tm.reference
}

// Groups is the number of group ends recorded.
func (tm *TimingMonitor) Groups() int {
	return tm.groups
}

// CheckRestart returns a SlowTaskRestart anomaly if the stop-to-start latency
// of the task before frame exceeds the threshold.
func (tm *TimingMonitor) CheckRestart(frame int, latency time.Duration) error {
	if latency <= tm.slow {
		return nil
	}
	return &AnomalyError{Kind: SlowTaskRestart, Frame: frame,
		Detail: fmt.Sprintf("TaskStop()...TaskStart() took %.3f ms. This exceeds the warning threshold, %.3f ms",
			latency.Seconds()*1000, tm.slow.Seconds()*1000)}
}
