package nicapture

import (
	"testing"
	"time"
)

func TestStartTime(t *testing.T) {
	if StartTime.IsZero() {
		t.Fatal("StartTime was not set by init")
	}
	if d := time.Since(StartTime); d < 0 {
		t.Errorf("time.Since(StartTime)=%v, want >= 0", d)
	}
}
