package nicapture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// State is the position of the Scheduler in its control loop.
type State int32

// Names for the possible values of State
const (
	Idle          State = iota // no task running
	Armed                      // task started, trigger not yet seen
	TriggerWait                // blocked in the 1-sample read
	Streaming                  // reading samples of a frame
	FrameDone                  // all samples of a frame read
	GroupContinue              // within a group: discarding the interval
	GroupStopped               // end of group: task stopped
	Stopping                   // graceful stop requested
	Finished                   // loop exited
)

var stateNames = map[State]string{
	Idle:          "Idle",
	Armed:         "Ready/Running",
	TriggerWait:   "Waiting for trigger",
	Streaming:     "Streaming",
	FrameDone:     "Frame done",
	GroupContinue: "Continuing group",
	GroupStopped:  "Stopped",
	Stopping:      "Stopping",
	Finished:      "Finished",
}

func (s State) String() string {
	return stateNames[s]
}

// Readback holds the task settings as the hardware accepted them.
type Readback struct {
	SampleRate   float64
	VoltageRange float64
	Gain         float64
}

// pendingFrame is a frame whose samples are all read but which has not yet
// been reduced. Reduction waits until the next task start.
type pendingFrame struct {
	index            int
	group            int
	end              time.Time
	overload         bool
	overloadChannels string
	groupEnded       bool
	dataCount        int
}

// Scheduler owns the Task and runs the frame/group acquisition loop.
type Scheduler struct {
	cfg     *AcquisitionConfig
	inst    Instrument
	task    Task
	policy  Policy
	monitor *TimingMonitor
	acc     *Accumulator
	router  *FrameRouter
	sinks   []FrameSink
	buf     []float64

	state        atomic.Int32
	stop         chan struct{}
	readsLog     rate.Sometimes
	degenLog     rate.Sometimes
	samplesTotal int64
	framesDone   atomic.Int64
}

// NewScheduler makes a Scheduler for cfg driving inst. dump receives the
// raw-dump lines when cfg.DumpRaw is set. Every finished frame goes to all sinks.
func NewScheduler(cfg *AcquisitionConfig, inst Instrument, dump RawSink, sinks ...FrameSink) *Scheduler {
	cdsM := 0
	if cfg.Mode == CDSMultiple {
		cdsM = cfg.CDSHalfWidth
	}
	if !cfg.DumpRaw {
		dump = nil
	}
	acc := NewAccumulator(cfg.Channels, cfg.DataCount(), cdsM)
	s := &Scheduler{
		cfg:      cfg,
		inst:     inst,
		policy:   Policy{Strict: cfg.Strict, IsFatal: inst.IsFatal},
		monitor:  NewTimingMonitor(cfg),
		acc:      acc,
		router:   NewFrameRouter(cfg, acc, dump),
		sinks:    sinks,
		buf:      make([]float64, cfg.BufferTuples*cfg.Channels),
		stop:     make(chan struct{}),
		readsLog: rate.Sometimes{First: 100},
		degenLog: rate.Sometimes{First: 10, Interval: time.Minute},
	}
	s.setState(Idle)
	return s
}

// setState records st, except that a requested stop stays visible until
// the loop has finished.
func (s *Scheduler) setState(st State) {
	if st != Finished && s.stopRequested() {
		return
	}
	s.state.Store(int32(st))
}

// State returns the current state. It is safe to call from any goroutine.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// FramesDone is the number of frames reduced and emitted so far.
func (s *Scheduler) FramesDone() int {
	return int(s.framesDone.Load())
}

// Stop requests a graceful stop at the end of the current frame. It is safe
// to call more than once and from any goroutine.
func (s *Scheduler) Stop() {
	select {
	case <-s.stop:
	default:
		s.state.Store(int32(Stopping))
		close(s.stop)
	}
}

func (s *Scheduler) stopRequested() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// handle applies the error policy. It returns nil when the loop may go on, or
// err after stopping and clearing the task.
func (s *Scheduler) handle(err error) error {
	if err == nil {
		return nil
	}
	var herr *HardwareError
	if errors.As(err, &herr) && herr.Message == "" {
		herr.Message = s.inst.ErrorString(herr.Code)
	}
	if s.policy.Decide(err) == Continue {
		ProblemLogger.Printf("WARNING: %v", err)
		return nil
	}
	if s.task != nil {
		s.task.Stop()
		s.task.Clear()
		s.task = nil
	}
	return err
}

// Configure creates and commits the task. It must be called once before Run.
func (s *Scheduler) Configure() (Readback, error) {
	var rb Readback
	cfg := s.cfg
	task, err := s.inst.CreateTask("nicapture")
	if err != nil {
		return rb, s.handle(err)
	}
	s.task = task
	if err := s.handle(task.ConfigureChannels(cfg.VoltageRange, cfg.Coupling, cfg.Terminal)); err != nil {
		return rb, err
	}
	if err := s.handle(task.ConfigureTrigger(cfg.TriggerEdge, cfg.PretriggerSamples)); err != nil {
		return rb, err
	}
	rb.SampleRate, err = task.ConfigureClock(cfg.SampleRate, cfg.ClockEdge, FiniteSamples, cfg.SamplesPerGroup())
	if err := s.handle(err); err != nil {
		return rb, err
	}
	if rb.SampleRate == 0 {
		rb.SampleRate = cfg.SampleRate
	}
	if err := s.handle(task.Commit()); err != nil {
		return rb, err
	}
	rb.VoltageRange, err = task.VoltageRange()
	if err := s.handle(err); err != nil {
		return rb, err
	}
	rb.Gain, err = task.Gain()
	if err := s.handle(err); err != nil {
		return rb, err
	}
	DebugLogger.Printf("task configured: %d samples per task, readback %.3f Hz, %.3f V, gain %.1f",
		cfg.SamplesPerGroup(), rb.SampleRate, rb.VoltageRange, rb.Gain)
	return rb, nil
}

// Run acquires frames until MaxFrames are done or Stop is called, then clears
// the task. Canceling ctx abandons any in-flight read and returns at once.
//
// Frame K is reduced and emitted after the task for frame K+1 has been
// started, while the hardware waits for its trigger.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.task == nil {
		return fmt.Errorf("Scheduler.Run: task not configured")
	}
	cfg := s.cfg
	var pending *pendingFrame
	frame, group, groupPos := 0, 0, 0
	notifyReady := cfg.TriggerReadyFile != ""
	taskPrestop := time.Now()

	for {
		doBreak := (cfg.MaxFrames != -1 && frame == cfg.MaxFrames) || s.stopRequested()

		restarted := false
		var taskStarted time.Time
		switch {
		case doBreak:
			taskStarted = time.Now()
		case groupPos != 0:
			s.readsLog.Do(func() {
				DebugLogger.Printf("Not starting task, already running in group. (frame: %d, group_pos %d)", frame, groupPos)
			})
			taskStarted = time.Now()
		default:
			if err := s.handle(s.task.Start()); err != nil {
				return err
			}
			taskStarted = time.Now()
			restarted = true
			s.setState(Armed)
			if frame == 0 {
				UpdateLogger.Printf("%s waiting for trigger.", DevName)
			}
			if notifyReady {
				DebugLogger.Printf("Deleting Trigger-Ready signal-file '%s'.", cfg.TriggerReadyFile)
				if err := os.Remove(cfg.TriggerReadyFile); err != nil {
					ProblemLogger.Printf("WARNING: could not delete trigger-ready file: %v", err)
				}
				notifyReady = false
			}
		}

		if pending != nil {
			rec := s.reduce(pending)
			latency := taskStarted.Sub(taskPrestop)
			if restarted {
				rec.RestartLatency = latency.Seconds()
				DebugLogger.Printf("TaskStop()...TaskStart() overhead took %.3f ms.", latency.Seconds()*1000)
				if err := s.monitor.CheckRestart(pending.index, latency); err != nil {
					rec.SlowRestart = true
					if err := s.handle(err); err != nil {
						return err
					}
				}
			} else if !doBreak {
				DebugLogger.Printf("Inter-frame interval (within the same group) took %.3f ms.", latency.Seconds()*1000)
			}
			if doBreak && rec.Partial {
				rec.Unpaired = true
				ProblemLogger.Printf("WARNING: frame %d has no partner frame for the difference image; only its summary is written",
					rec.Index)
			}
			if err := s.emit(rec); err != nil {
				return err
			}
			pending = nil
		}

		if doBreak {
			DebugLogger.Printf("Breaking out of main loop. Frame: %d, max frames: %d, stop requested: %v",
				frame, cfg.MaxFrames, s.stopRequested())
			break
		}

		s.router.Begin(frame)
		if err := s.stream(ctx, frame); err != nil {
			return err
		}
		frameEnd := time.Now()
		s.setState(FrameDone)

		p := &pendingFrame{index: frame, group: group, end: frameEnd, dataCount: s.router.Count(Data)}
		ovl, err := s.task.OverloadOccurred()
		if err := s.handle(err); err != nil {
			return err
		}
		if ovl {
			p.overload = true
			p.overloadChannels, err = s.task.OverloadChannels()
			if err := s.handle(err); err != nil {
				return err
			}
			aerr := &AnomalyError{Kind: OverloadDetected, Frame: frame,
				Detail: fmt.Sprintf("an overload has occurred in channel(s): '%s'", p.overloadChannels)}
			if err := s.handle(aerr); err != nil {
				return err
			}
		}

		groupPos++
		if groupPos == cfg.GroupSize {
			p.groupEnded = true
			groupPos = 0
			group++
			taskPrestop = time.Now()
			if err := s.handle(s.task.Stop()); err != nil {
				return err
			}
			s.setState(GroupStopped)
		} else {
			taskPrestop = time.Now()
			s.setState(GroupContinue)
			if err := s.discard(ctx, cfg.GroupInterval); err != nil {
				return err
			}
		}
		pending = p
		frame++
	}

	s.setState(Finished)
	if s.task != nil {
		err := s.task.Clear()
		s.task = nil
		if s.policy.Decide(err) == Abort {
			return err
		} else if err != nil {
			ProblemLogger.Printf("WARNING: %v", err)
		}
	}
	return nil
}

// stream reads exactly cfg.Samples scans of one frame into the router. Each
// pass tries a non-blocking read first, limited to what the frame still
// needs, and falls back to a blocking 1-scan read when nothing was available.
func (s *Scheduler) stream(ctx context.Context, frame int) error {
	nchan := s.cfg.Channels
	for s.router.Position() < s.cfg.Samples {
		remaining := s.cfg.Samples - s.router.Position()
		limit := min(remaining, s.cfg.BufferTuples)
		n, err := s.task.Read(ctx, ReadAuto, 0, s.buf[:limit*nchan])
		if err := s.handle(err); err != nil {
			return err
		}
		s.readsLog.Do(func() {
			DebugLogger.Printf("   ...acquired %d points non-blocking; frame %d position %d", n, frame, s.router.Position())
		})
		if n == 0 {
			if s.samplesTotal == 0 {
				UpdateLogger.Printf("Waiting for first external trigger (%s edge)...", s.cfg.TriggerEdge)
			}
			if s.router.Position() == 0 {
				s.setState(TriggerWait)
			}
			n, err = s.task.Read(ctx, 1, WaitInfinitely, s.buf[:nchan])
			if ctxErr := ctx.Err(); ctxErr != nil {
				return s.handle(fmt.Errorf("read interrupted in frame %d: %w", frame, ctxErr))
			}
			if err := s.handle(err); err != nil {
				return err
			}
		}
		s.setState(Streaming)
		s.samplesTotal += int64(n)
		if err := s.router.Dispatch(s.buf[:n*nchan]); err != nil {
			return s.handle(err)
		}
	}
	return nil
}

// discard reads and drops n scans of group-interval padding in chunks no
// larger than the read buffer.
func (s *Scheduler) discard(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	s.readsLog.Do(func() {
		DebugLogger.Printf("Discarding %d points for interval between frames in the same group.", n)
	})
	nchan := s.cfg.Channels
	for n > 0 {
		chunk := min(n, s.cfg.BufferTuples)
		got, err := s.task.Read(ctx, chunk, WaitInfinitely, s.buf[:chunk*nchan])
		if ctxErr := ctx.Err(); ctxErr != nil {
			return s.handle(fmt.Errorf("interval discard interrupted: %w", ctxErr))
		}
		if err := s.handle(err); err != nil {
			return err
		}
		n -= got
	}
	return nil
}

// reduce turns the sums and buffers of pending into a FrameRecord.
func (s *Scheduler) reduce(p *pendingFrame) *FrameRecord {
	cfg := s.cfg
	DebugLogger.Printf("Processing data for frame %d.", p.index)
	rec := &FrameRecord{
		Mode:             cfg.Mode,
		Index:            p.index,
		Group:            p.group,
		End:              s.monitor.CorrectTimestamp(p.end),
		Overload:         p.overload,
		OverloadChannels: p.overloadChannels,
		Results:          s.acc.Finalize(p.dataCount),
	}
	if p.groupEnded {
		missed, interval, ref := s.monitor.GroupEnded(p.end)
		if missed {
			rec.MissedTrigger = true
			s.handle(&AnomalyError{Kind: MissedTriggerSuspected, Frame: p.index,
				Detail: fmt.Sprintf("intergroup interval (between groups %d and %d) was %.3g ms; expect %.3g ms. (Threshold: %.4g)",
					p.group-1, p.group, interval.Seconds()*1e3, ref.Seconds()*1e3, cfg.MissedTriggerRatio)})
		}
	}
	for c, r := range rec.Results {
		if len(r.Degenerate) > 0 {
			s.degenLog.Do(func() {
				s.handle(&AnomalyError{Kind: ReductionDegenerate, Frame: p.index,
					Detail: fmt.Sprintf("channel %d: %v", c, r.Degenerate)})
			})
		}
	}

	switch cfg.Mode {
	case Raw:
		raw := s.router.Raw()
		rec.Rows = make([][]float64, p.dataCount)
		for i := range rec.Rows {
			rec.Rows[i] = raw.Row(i)
		}
	case Image:
		pix := s.router.Pixels()
		rec.Rows = make([][]float64, cfg.Pixels)
		for i := range rec.Rows {
			rec.Rows[i] = pix.Pixel(p.index, i)
		}
	case ImageDifference:
		if p.index%2 == 0 {
			rec.Partial = true
			break
		}
		pix := s.router.Pixels()
		rec.Rows = make([][]float64, cfg.Pixels)
		for i := range rec.Rows {
			rec.Rows[i] = pix.Difference(i)
		}
	}
	return rec
}

func (s *Scheduler) emit(rec *FrameRecord) error {
	for _, sink := range s.sinks {
		if err := sink.WriteFrame(rec); err != nil {
			return s.handle(fmt.Errorf("frame %d output: %w", rec.Index, err))
		}
	}
	s.framesDone.Add(1)
	return nil
}
