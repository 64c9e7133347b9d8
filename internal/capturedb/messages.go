package capturedb

import "time"

// The composite types used for messages to the ClickHouse database.

// RunMessage is the information for the captureruns table: one row per
// acquisition run, written at start and again at the end.
type RunMessage struct {
	ID            string
	Hostname      string
	Version       string
	Githash       string
	GoVersion     string
	Mode          string
	SampleRate    float64
	Samples       int
	GroupSize     int
	GroupInterval int
	MaxFrames     int
	Start         time.Time
	End           time.Time
}

// FrameMessage is one reduced frame for the frames table.
type FrameMessage struct {
	RunID         string
	Frame         int
	EndTime       float64
	Overload      bool
	MissedTrigger bool
	Values        []float64
}

// AnomalyMessage is one anomaly (overload, missed trigger, slow restart) for
// the anomalies table.
type AnomalyMessage struct {
	RunID  string
	Frame  int
	Kind   string
	Detail string
	Time   time.Time
}
