package nicapture

import (
	"io"
	"log"
	"os"
	"time"
)

// BuildInfo can contain compile-time information about the build
type BuildInfo struct {
	Version string
	Githash string
	Gitdate string
	Date    string
	Host    string
	Summary string
}

// Build is a global holding compile-time information about the build
var Build = BuildInfo{
	Version: "0.3.0",
	Githash: "no git hash computed",
	Date:    "no build date computed",
}

// StartTime is a global holding the time init() was run
var StartTime time.Time

// ProblemLogger will log warning messages (anomalies, hardware warnings) to a file
var ProblemLogger *log.Logger

// UpdateLogger will log state changes and configuration summaries to a file
var UpdateLogger *log.Logger

// DebugLogger receives the verbose messages enabled by debug mode. It discards
// everything until SetDebug(true) is called.
var DebugLogger *log.Logger

// SetDebug turns the verbose debug messages on or off.
func SetDebug(on bool) {
	if on {
		DebugLogger.SetOutput(os.Stderr)
	} else {
		DebugLogger.SetOutput(io.Discard)
	}
}

func init() {
	StartTime = time.Now()

	// The main program will override these, but at least initialize with sensible values
	ProblemLogger = log.New(os.Stderr, "", log.LstdFlags)
	UpdateLogger = log.New(os.Stderr, "", log.LstdFlags)
	DebugLogger = log.New(io.Discard, "debug: ", log.Lmicroseconds)
}
