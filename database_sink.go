package nicapture

import (
	"time"

	"github.com/usnistgov/nicapture/internal/capturedb"
)

// DatabaseSink records every frame, and the anomalies it carries, through a
// capturedb connection.
type DatabaseSink struct {
	db    *capturedb.CaptureDBConnection
	runID string
}

// NewDatabaseSink returns a sink recording under runID.
func NewDatabaseSink(db *capturedb.CaptureDBConnection, runID string) *DatabaseSink {
	return &DatabaseSink{db: db, runID: runID}
}

// WriteFrame queues the frame row and its anomaly rows. It never blocks.
func (ds *DatabaseSink) WriteFrame(rec *FrameRecord) error {
	now := time.Now()
	anomaly := func(kind AnomalyKind, detail string) {
		ds.db.RecordAnomaly(&capturedb.AnomalyMessage{RunID: ds.runID, Frame: rec.Index,
			Kind: kind.String(), Detail: detail, Time: now})
	}
	if rec.Overload {
		anomaly(OverloadDetected, rec.OverloadChannels)
	}
	if rec.MissedTrigger {
		anomaly(MissedTriggerSuspected, "")
	}
	if rec.SlowRestart {
		anomaly(SlowTaskRestart, time.Duration(rec.RestartLatency*float64(time.Second)).String())
	}
	if rec.Partial {
		return nil
	}
	ds.db.RecordFrame(&capturedb.FrameMessage{
		RunID:         ds.runID,
		Frame:         rec.Index,
		EndTime:       rec.End,
		Overload:      rec.Overload,
		MissedTrigger: rec.MissedTrigger,
		Values:        summaryRow(rec)[4:],
	})
	return nil
}
