package capturedb

import (
	"testing"
	"time"
)

func TestDummyConnection(t *testing.T) {
	db := DummyDBConnection()
	if db.IsConnected() {
		t.Errorf("DummyDBConnection().IsConnected()=true, want false")
	}
	// Recording on an unconnected database must be a silent no-op.
	db.RecordFrame(&FrameMessage{RunID: "x", Frame: 1})
	db.RecordAnomaly(&AnomalyMessage{RunID: "x", Kind: "overload"})
	db.Disconnect()
	db.Wait()

	var nilDB *CaptureDBConnection
	if nilDB.IsConnected() {
		t.Errorf("nil connection IsConnected()=true, want false")
	}
}

func TestConnection(t *testing.T) {
	saved := ConnectTimeout
	ConnectTimeout = 500 * time.Millisecond
	defer func() { ConnectTimeout = saved }()

	abort := make(chan struct{})
	run := &RunMessage{ID: "01TEST", Mode: "lin_reg", Start: time.Now()}
	db := StartDBConnection(run, abort)
	if !db.IsConnected() {
		close(abort)
		db.Wait()
		t.Skipf("no ClickHouse server available: %v", db.Err())
	}
	db.RecordFrame(&FrameMessage{RunID: run.ID, Frame: 0, EndTime: 1.5, Values: []float64{1, 2, 3}})
	db.RecordAnomaly(&AnomalyMessage{RunID: run.ID, Frame: 0, Kind: "overload", Time: time.Now()})
	close(abort)
	db.Wait()
}
