package nicapture

import (
	"context"
	"fmt"
	"io"
	"testing"
)

func TestPolicyDecide(t *testing.T) {
	hwWarn := &HardwareError{Op: "Commit", Code: SimWarnCoercedRate, Message: "coerced"}
	hwFatal := &HardwareError{Op: "Read", Code: SimErrReadPastEnd, Message: "past end"}
	anomaly := func(k AnomalyKind) error { return &AnomalyError{Kind: k, Frame: 3} }
	tests := []struct {
		err    error
		lax    Action
		strict Action
	}{
		{nil, Continue, Continue},
		{&ConfigurationError{Param: "freq"}, Abort, Abort},
		{hwWarn, Continue, Abort},
		{hwFatal, Abort, Abort},
		{fmt.Errorf("wrapped: %w", hwFatal), Abort, Abort},
		{anomaly(OverloadDetected), Continue, Abort},
		{anomaly(SlowTaskRestart), Continue, Abort},
		{anomaly(MissedTriggerSuspected), Continue, Continue},
		{anomaly(ReductionDegenerate), Continue, Continue},
		{io.ErrShortWrite, Abort, Abort},
		{context.Canceled, Abort, Abort},
	}
	for _, tt := range tests {
		if got := (Policy{}).Decide(tt.err); got != tt.lax {
			t.Errorf("Policy{}.Decide(%v)=%s, want %s", tt.err, got, tt.lax)
		}
		if got := (Policy{Strict: true}).Decide(tt.err); got != tt.strict {
			t.Errorf("Policy{Strict}.Decide(%v)=%s, want %s", tt.err, got, tt.strict)
		}
	}
}

func TestHardwareErrorSeverity(t *testing.T) {
	if s := (&HardwareError{Code: -1}).Severity(); s != Fatal {
		t.Errorf("negative code severity %s, want fatal", s)
	}
	if s := (&HardwareError{Code: 1}).Severity(); s != Warning {
		t.Errorf("positive code severity %s, want warning", s)
	}
}

func TestPolicyClassifier(t *testing.T) {
	warn := &HardwareError{Op: "Commit", Code: SimWarnCoercedRate}
	fatal := &HardwareError{Op: "Read", Code: SimErrReadPastEnd}
	always := Policy{IsFatal: func(int) bool { return true }}
	never := Policy{IsFatal: func(int) bool { return false }}
	if got := always.Decide(warn); got != Abort {
		t.Errorf("Decide(%v) with an all-fatal classifier=%s, want %s", warn, got, Abort)
	}
	if got := never.Decide(fatal); got != Continue {
		t.Errorf("Decide(%v) with a no-fatal classifier=%s, want %s", fatal, got, Continue)
	}
	never.Strict = true
	if got := never.Decide(warn); got != Abort {
		t.Errorf("strict Decide(%v)=%s, want %s", warn, got, Abort)
	}
}
