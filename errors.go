package nicapture

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an invalid parameter or parameter combination,
// detected before any hardware is touched. It is always fatal.
type ConfigurationError struct {
	Param string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%s): %s", e.Param, e.Msg)
}

// Severity distinguishes recoverable from unrecoverable hardware conditions.
type Severity int

// Severities of a HardwareError
const (
	Warning Severity = iota
	Fatal
)

func (s Severity) String() string {
	if s == Fatal {
		return "fatal"
	}
	return "warning"
}

// HardwareError is a condition reported by the Instrument. As in the vendor
// API, a negative Code is an unrecoverable error and a positive Code a warning.
type HardwareError struct {
	Op      string
	Code    int
	Message string
}

// Severity is Fatal for negative codes.
func (e *HardwareError) Severity() Severity {
	if e.Code < 0 {
		return Fatal
	}
	return Warning
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("%s %s %d in %s: %s", DevName, e.Severity(), e.Code, e.Op, e.Message)
}

// AnomalyKind names the conditions detected by the acquisition loop itself.
type AnomalyKind int

// The anomalies
const (
	OverloadDetected AnomalyKind = iota
	MissedTriggerSuspected
	SlowTaskRestart
	ReductionDegenerate
)

var anomalyNames = map[AnomalyKind]string{
	OverloadDetected:       "overload",
	MissedTriggerSuspected: "missed trigger",
	SlowTaskRestart:        "slow task restart",
	ReductionDegenerate:    "degenerate reduction",
}

func (k AnomalyKind) String() string {
	return anomalyNames[k]
}

// AnomalyError describes one anomaly in one frame.
type AnomalyError struct {
	Kind   AnomalyKind
	Frame  int
	Detail string
}

func (e *AnomalyError) Error() string {
	return fmt.Sprintf("%s in frame %d: %s", e.Kind, e.Frame, e.Detail)
}

// Action is what the control loop should do after an error.
type Action int

// Actions a Policy can return
const (
	Continue Action = iota
	Abort
)

func (a Action) String() string {
	if a == Abort {
		return "abort"
	}
	return "continue"
}

// Policy decides whether an error stops the acquisition. In Strict mode every
// warning is promoted to fatal; otherwise only fatal hardware errors and
// configuration errors abort.
type Policy struct {
	Strict bool

	// IsFatal classifies hardware error codes, normally Instrument.IsFatal.
	// When nil, negative codes are fatal.
	IsFatal func(code int) bool
}

func (p Policy) fatal(herr *HardwareError) bool {
	if p.IsFatal != nil {
		return p.IsFatal(herr.Code)
	}
	return herr.Severity() == Fatal
}

// Decide returns Continue or Abort for err. A nil err always continues.
// Missed triggers and degenerate reductions never abort: the first is only
// inferred, the second is surfaced as NaN results.
func (p Policy) Decide(err error) Action {
	if err == nil {
		return Continue
	}
	var cerr *ConfigurationError
	if errors.As(err, &cerr) {
		return Abort
	}
	var herr *HardwareError
	if errors.As(err, &herr) {
		if p.fatal(herr) || p.Strict {
			return Abort
		}
		return Continue
	}
	var aerr *AnomalyError
	if errors.As(err, &aerr) {
		switch aerr.Kind {
		case MissedTriggerSuspected, ReductionDegenerate:
			return Continue
		}
		if p.Strict {
			return Abort
		}
		return Continue
	}
	// Anything unclassified (I/O on the output stream, context errors) aborts.
	return Abort
}
