package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lorenzosaino/go-sysctl"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/viper"
	"github.com/usnistgov/nicapture"
	"github.com/usnistgov/nicapture/internal/asyncbufio"
	"github.com/usnistgov/nicapture/internal/capturedb"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

var githash = "githash not computed"
var gitdate = "git date not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	// Create directory <path>, if needed
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		err2 := os.MkdirAll(dir, 0775)
		if err2 != nil {
			return "", err2
		}
	}

	// Create an empty file path/filename, if it doesn't exist.
	fullname := path.Join(dir, filename)
	_, err := os.Stat(fullname)
	if os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper sets up the viper configuration manager: says where to find config
// files and the filename and suffix. Sets the defaults of every flag.
func setupViper() error {
	d := nicapture.DefaultParams()
	viper.SetDefault("mode", d.Mode.String())
	viper.SetDefault("freq", d.SampleRate)
	viper.SetDefault("voltage", d.VoltageRange)
	viper.SetDefault("samples", d.Samples)
	viper.SetDefault("frames", "cont")
	viper.SetDefault("group_size", d.GroupSize)
	viper.SetDefault("group_interval", d.GroupInterval)
	viper.SetDefault("guard_pre", d.GuardPre)
	viper.SetDefault("guard_post", d.GuardPost)
	viper.SetDefault("guard_internal", d.GuardInternal)
	viper.SetDefault("cds_m", d.CDSHalfWidth)
	viper.SetDefault("coupling", d.Coupling.String())
	viper.SetDefault("terminal", d.Terminal.String())
	viper.SetDefault("trigger_edge", d.TriggerEdge.String())
	viper.SetDefault("missed_trigger_ratio", d.MissedTriggerRatio)
	viper.SetDefault("slow_restart", d.SlowTaskRestart)
	viper.SetDefault("sim_trigger_period", 100*time.Millisecond)
	viper.SetDefault("publish_port", 0)

	HOME, err := os.UserHomeDir()
	if err != nil {
		fmt.Printf("Error finding User Home Dir: %s\n", err)
	}
	dotNicapture := filepath.Join(HOME, ".nicapture")
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotNicapture, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/nicapture"))
	viper.AddConfigPath(dotNicapture)
	viper.AddConfigPath(".")
	err = viper.ReadInConfig() // Find and read the config file
	if err != nil {
		return fmt.Errorf("error reading config file: %s", err)
	}
	return nil
}

// startLogger returns a logger writing to a rotating file pfname, and also to
// tee if it is not nil.
func startLogger(pfname string, tee io.Writer) *log.Logger {
	var w io.Writer = &lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	}
	if tee != nil {
		w = io.MultiWriter(tee, w)
	}
	return log.New(w, "", log.LstdFlags)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Fatal Error: "+format+"\n", args...)
	os.Exit(1)
}

// closer is a sink that must be closed at the end of the run.
type closer interface {
	nicapture.FrameSink
	Close() error
}

func main() {
	buildDate = strings.Replace(buildDate, ".", " ", -1) // workaround for Make problems
	nicapture.Build.Date = buildDate
	nicapture.Build.Githash = githash
	nicapture.Build.Gitdate = gitdate
	nicapture.Build.Summary = fmt.Sprintf("nicapture version %s (git commit %s of %s)", nicapture.Build.Version, githash, gitdate)
	if host, err := os.Hostname(); err == nil {
		nicapture.Build.Host = host
	} else {
		nicapture.Build.Host = "host not detected"
	}

	// Find config file, creating it if needed, and read it. Its values are the flag defaults.
	if err := setupViper(); err != nil {
		fatal("%v", err)
	}

	modeName := flag.String("a", viper.GetString("mode"), "analysis mode: raw, lin_reg, cds_multiple, image, image_diff")
	freq := flag.Float64("f", viper.GetFloat64("freq"), "sample frequency in Hz")
	volts := flag.Float64("v", viper.GetFloat64("voltage"), "voltage range +/-V, one of 0.316, 1, 3.16, 10")
	samples := flag.Int("n", viper.GetInt("samples"), "samples per frame")
	frames := flag.String("m", viper.GetString("frames"), "max frames, or 'cont' for continuous")
	groupSize := flag.Int("g", viper.GetInt("group_size"), "frames per group (one trigger per group)")
	groupInterval := flag.Int("i", viper.GetInt("group_interval"), "samples to skip between frames of a group")
	guardPre := flag.Int("x", viper.GetInt("guard_pre"), "guard samples discarded at the start of each frame")
	guardPost := flag.Int("y", viper.GetInt("guard_post"), "guard samples discarded at the end of each frame")
	guardInt := flag.Int("z", viper.GetInt("guard_internal"), "internal guard samples between pixels (imaging modes)")
	cdsM := flag.Int("c", viper.GetInt("cds_m"), "CDS half-width M (cds_multiple mode)")
	pixels := flag.Int("p", 0, "pixels per frame (imaging modes)")
	dumpRaw := flag.Bool("r", false, "also dump every raw sample, prefixed by '#='")
	triggerFile := flag.String("T", "", "delete this pre-created empty file when ready for the first trigger")
	debug := flag.Bool("d", false, "debug: verbose messages, and warnings are fatal")
	outName := flag.String("o", "", "output file (default stdout)")
	useSim := flag.Bool("sim", false, "use the simulated instrument")
	simPeriod := flag.Duration("sim-trigger", viper.GetDuration("sim_trigger_period"), "trigger period of the simulated instrument (0 for auto-trigger)")
	pubPort := flag.Int("pub", viper.GetInt("publish_port"), "publish frame summaries on this ZMQ port (0 for none)")
	npyName := flag.String("npy", "", "save per-frame results to this .npy file")
	fitsName := flag.String("fits", "", "save image frames to this FITS file")
	rowsName := flag.String("rows", "", "stream raw or pixel rows to this .npy file")
	useDB := flag.Bool("db", false, "record the run in the ClickHouse database")
	printVersion := flag.Bool("version", false, "print version and quit")
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is nicapture version %s\n", nicapture.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		os.Exit(0)
	}
	given := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { given[f.Name] = true })

	// Start logging problems and updates to 2 log files.
	HOME, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	logdir := filepath.Join(HOME, ".nicapture", "logs")
	problemname, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		panic(err)
	}
	logname, err := makeFileExist(logdir, "updates.log")
	if err != nil {
		panic(err)
	}
	nicapture.ProblemLogger = startLogger(problemname, os.Stderr)
	nicapture.UpdateLogger = startLogger(logname, os.Stderr)
	nicapture.SetDebug(*debug)

	p := nicapture.DefaultParams()
	if p.Mode, err = nicapture.ParseMode(*modeName); err != nil {
		fatal("%v", err)
	}
	p.SampleRate = *freq
	p.VoltageRange = *volts
	p.Samples = *samples
	if *frames == "cont" {
		p.MaxFrames = -1
	} else if p.MaxFrames, err = strconv.Atoi(*frames); err != nil {
		fatal("max frames (-m) must be an integer or 'cont', not %q", *frames)
	}
	p.GroupSize = *groupSize
	p.GroupInterval = *groupInterval
	p.GuardPre, p.GuardPost = *guardPre, *guardPost
	p.GuardInternal, p.GuardInternalSet = *guardInt, given["z"]
	p.CDSHalfWidth, p.CDSHalfWidthSet = *cdsM, given["c"]
	p.Pixels, p.PixelsSet = *pixels, given["p"]
	p.DumpRaw = *dumpRaw
	p.Strict = *debug
	p.TriggerReadyFile = *triggerFile
	p.MissedTriggerRatio = viper.GetFloat64("missed_trigger_ratio")
	p.SlowTaskRestart = viper.GetDuration("slow_restart")
	if viper.GetString("coupling") == "ac" {
		p.Coupling = nicapture.CouplingAC
	}
	if viper.GetString("terminal") == "pseudodifferential" {
		p.Terminal = nicapture.PseudoDifferential
	}
	if viper.GetString("trigger_edge") == "rising" {
		p.TriggerEdge = nicapture.Rising
	}

	cfg, err := nicapture.NewAcquisitionConfig(p)
	if err != nil {
		fatal("%v", err)
	}
	if !*useSim {
		fatal("this build has no hardware driver for %s; run with -sim", nicapture.DevName)
	}

	runID := ulid.Make().String()
	banner := fmt.Sprintf("This is nicapture version %s (git commit %s), run %s", nicapture.Build.Version, githash, runID)
	nicapture.UpdateLogger.Print(banner)
	nicapture.UpdateLogger.Print(cfg.Summary())
	if rt, err := sysctl.Get("kernel.sched_rt_runtime_us"); err == nil {
		nicapture.DebugLogger.Printf("kernel.sched_rt_runtime_us = %s", rt)
	} else {
		nicapture.DebugLogger.Printf("could not read kernel.sched_rt_runtime_us: %v", err)
	}

	// Data go to stdout unless -o is given. Flush often when a person is watching.
	var out io.Writer = os.Stdout
	flushInterval := time.Second
	if *outName != "" {
		f, err := os.Create(*outName)
		if err != nil {
			fatal("could not open output file: %v", err)
		}
		defer f.Close()
		out = f
	} else if term.IsTerminal(int(os.Stdout.Fd())) {
		flushInterval = 100 * time.Millisecond
	}
	aw := asyncbufio.NewWriter(out, 10000, flushInterval)
	formatter := nicapture.NewFormatter(aw, cfg)

	sinks := []nicapture.FrameSink{formatter}
	var closers []closer
	if *pubPort > 0 {
		pub, err := nicapture.StartPublisher(*pubPort, runID)
		if err != nil {
			fatal("could not start publisher on port %d: %v", *pubPort, err)
		}
		sinks = append(sinks, pub)
		closers = append(closers, pub)
	}
	if *npyName != "" {
		arch := nicapture.NewResultArchive(*npyName)
		sinks = append(sinks, arch)
		closers = append(closers, arch)
	}
	if *fitsName != "" {
		fe, err := nicapture.NewFITSExporter(*fitsName)
		if err != nil {
			fatal("could not create FITS file: %v", err)
		}
		sinks = append(sinks, fe)
		closers = append(closers, fe)
	}
	if *rowsName != "" {
		ra, err := nicapture.NewRowArchive(*rowsName, cfg.Channels)
		if err != nil {
			fatal("could not create rows file: %v", err)
		}
		sinks = append(sinks, ra)
		closers = append(closers, ra)
	}
	dbAbort := make(chan struct{})
	db := capturedb.DummyDBConnection()
	if *useDB {
		db = capturedb.StartDBConnection(&capturedb.RunMessage{
			ID:            runID,
			Hostname:      nicapture.Build.Host,
			Version:       nicapture.Build.Version,
			Githash:       githash,
			GoVersion:     runtime.Version(),
			Mode:          cfg.Mode.String(),
			SampleRate:    cfg.SampleRate,
			Samples:       cfg.Samples,
			GroupSize:     cfg.GroupSize,
			GroupInterval: cfg.GroupInterval,
			MaxFrames:     cfg.MaxFrames,
			Start:         time.Now(),
		}, dbAbort)
		sinks = append(sinks, nicapture.NewDatabaseSink(db, runID))
	}

	inst := nicapture.NewSimInstrument(16)
	trigCtx, stopTriggers := context.WithCancel(context.Background())
	if *simPeriod <= 0 {
		inst.AutoTrigger = true
	} else {
		go inst.RunTriggers(trigCtx, *simPeriod)
	}

	sched := nicapture.NewScheduler(cfg, inst, formatter, sinks...)
	rb, err := sched.Configure()
	if err != nil {
		fatal("%v", err)
	}
	if err := formatter.WriteHeader(nicapture.HeaderInfo{RunID: runID,
		SampleRate: rb.SampleRate, VoltageRange: rb.VoltageRange, Gain: rb.Gain}); err != nil {
		fatal("could not write header: %v", err)
	}

	// Ctrl-C stops cleanly at the end of the current frame and a second Ctrl-C
	// abandons the read in progress. Ctrl-\ exits at once. SIGUSR1 prints the state.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGUSR1)
	go func() {
		for sig := range sigs {
			switch sig {
			case syscall.SIGINT:
				if sched.State() == nicapture.Stopping {
					fmt.Fprintln(os.Stderr, "Second Ctrl-C, abandoning the current read.")
					cancelRun()
					continue
				}
				fmt.Fprintf(os.Stderr, "Ctrl-C (sig %d), stopping at the end of this (complete) frame. (Use Ctrl-\\ to kill now).\n", sig)
				sched.Stop()
			case syscall.SIGQUIT:
				os.Exit(1)
			case syscall.SIGUSR1:
				fmt.Fprintln(os.Stderr, sched.State())
			}
		}
	}()

	runErr := sched.Run(runCtx)
	stopTriggers()
	signal.Stop(sigs)

	for _, c := range closers {
		if err := c.Close(); err != nil {
			nicapture.ProblemLogger.Printf("WARNING: %v", err)
		}
	}
	close(dbAbort)
	db.Wait()
	if err := aw.Close(); err != nil {
		nicapture.ProblemLogger.Printf("output error: %v", err)
		if runErr == nil {
			runErr = err
		}
	}
	nicapture.UpdateLogger.Printf("Acquired %d frames in %v.", sched.FramesDone(), time.Since(nicapture.StartTime).Round(time.Millisecond))
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Fatal Error: %v\n", runErr)
		os.Exit(1)
	}
}
