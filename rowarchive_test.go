package nicapture

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRowArchiveRawRun(t *testing.T) {
	cfg := looseConfig(Params{Mode: Raw, Samples: 10, GuardPre: 1, GuardPost: 1, MaxFrames: 3})
	ra, err := NewRowArchive(filepath.Join(t.TempDir(), "rows.npy"), cfg.Channels)
	if err != nil {
		t.Fatal(err)
	}
	sched := NewScheduler(cfg, newAutoSim(nil), nil, ra)
	if _, err := sched.Configure(); err != nil {
		t.Fatal(err)
	}
	if err := sched.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 3*8, ra.Rows())
	assert.NoError(t, ra.WriteFrame(&FrameRecord{Mode: LinearRegression}))
	assert.Equal(t, 3*8, ra.Rows(), "records without rows add nothing")
	assert.NoError(t, ra.Close())
}
