package nicapture

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
)

// Error codes produced by SimInstrument, borrowed from the vendor's numbering.
const (
	SimErrReadPastEnd       = -200278
	SimErrTaskNotRunning    = -200479
	SimErrResourceReserved  = -50103
	SimErrInvalidConfigured = -200077
	SimWarnCoercedRate      = 200336
)

var simErrorStrings = map[int]string{
	SimErrReadPastEnd:       "Attempted to read a sample beyond the final sample acquired.",
	SimErrTaskNotRunning:    "Specified operation cannot be performed while the task is not running.",
	SimErrResourceReserved:  "The specified resource is reserved.",
	SimErrInvalidConfigured: "Requested value is not a supported value for this property.",
	SimWarnCoercedRate:      "Sample rate was coerced by the device.",
}

// Waveform returns the simulated value of one channel at sample number
// sample (counted from task start) in the start'th run of a task.
type Waveform func(start, sample, channel int) float64

// DefaultWaveform is a small sawtooth of period 10 samples, the same on every channel.
func DefaultWaveform(start, sample, channel int) float64 {
	return 0.001 * float64(sample%10)
}

// SimInstrument is a drop-in replacement for the digitizer (implements
// Instrument) that requires no hardware, for testing and dry runs.
type SimInstrument struct {
	// AutoTrigger makes every Start trigger immediately.
	AutoTrigger bool
	// Chunk caps the scans returned by one ReadAuto call (0 means no cap).
	Chunk int
	// Waveform generates the samples; nil means DefaultWaveform.
	Waveform Waveform
	// StartDelay is slept inside every Start.
	StartDelay time.Duration

	trigger chan struct{}

	sync.Mutex
	failures map[string]error
	overload []string
	tasks    []*SimTask
}

// NewSimInstrument returns a SimInstrument whose trigger queue holds up to
// queue pending triggers.
func NewSimInstrument(queue int) *SimInstrument {
	if queue < 1 {
		queue = 1
	}
	return &SimInstrument{
		Waveform: DefaultWaveform,
		trigger:  make(chan struct{}, queue),
		failures: make(map[string]error),
	}
}

// Trigger queues one external trigger pulse. It returns false if the queue is full.
func (si *SimInstrument) Trigger() bool {
	select {
	case si.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// RunTriggers sends a trigger every period until ctx is done.
func (si *SimInstrument) RunTriggers(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			si.Trigger()
		}
	}
}

// InjectOverload flags the named channels as overloaded. The flag is cleared
// by the next OverloadOccurred call on any task.
func (si *SimInstrument) InjectOverload(channels ...string) {
	si.Lock()
	defer si.Unlock()
	si.overload = append(si.overload, channels...)
}

// Fail makes every future call of the named Task operation (e.g. "Start",
// "Read") return err. A nil err removes the failure.
func (si *SimInstrument) Fail(op string, err error) {
	si.Lock()
	defer si.Unlock()
	if err == nil {
		delete(si.failures, op)
		return
	}
	si.failures[op] = err
}

func (si *SimInstrument) failure(op string) error {
	si.Lock()
	defer si.Unlock()
	return si.failures[op]
}

// Tasks returns the tasks created so far.
func (si *SimInstrument) Tasks() []*SimTask {
	si.Lock()
	defer si.Unlock()
	return append([]*SimTask{}, si.tasks...)
}

// CreateTask returns a new unconfigured SimTask.
func (si *SimInstrument) CreateTask(name string) (Task, error) {
	if err := si.failure("CreateTask"); err != nil {
		return nil, err
	}
	task := &SimTask{name: name, inst: si, rate: DefaultSampleRate, rangeV: DefaultVoltageRange}
	si.Lock()
	si.tasks = append(si.tasks, task)
	si.Unlock()
	return task, nil
}

// ErrorString returns the message for a sim error code.
func (si *SimInstrument) ErrorString(code int) string {
	if msg, ok := simErrorStrings[code]; ok {
		return msg
	}
	return fmt.Sprintf("unknown error code %d", code)
}

// IsFatal is true for negative codes.
func (si *SimInstrument) IsFatal(code int) bool {
	return code < 0
}

func (si *SimInstrument) hwError(op string, code int) error {
	return &HardwareError{Op: op, Code: code, Message: si.ErrorString(code)}
}

// Inspect prints the instrument and its tasks for debugging.
func (si *SimInstrument) Inspect() string {
	si.Lock()
	defer si.Unlock()
	var b bytes.Buffer
	cfg := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, DisableMethods: true, MaxDepth: 2}
	cfg.Fdump(&b, si.tasks)
	return fmt.Sprintf("SimInstrument autotrigger=%v chunk=%d pending triggers=%d overload=%v\n%s",
		si.AutoTrigger, si.Chunk, len(si.trigger), si.overload, b.String())
}

// SimTask is the Task made by SimInstrument. Counters are exported through
// methods so tests can check how the capture loop drove the task.
type SimTask struct {
	name string
	inst *SimInstrument

	rangeV    float64
	coupling  Coupling
	terminal  TerminalMode
	edge      Edge
	pre       int
	rate      float64
	total     int
	committed bool
	cleared   bool

	overloadChans string

	sync.Mutex
	running   bool
	triggered bool
	pos       int
	starts    int
	stops     int
	clears    int
	requests  []int
}

func (t *SimTask) check(op string) error {
	if err := t.inst.failure(op); err != nil {
		return err
	}
	if t.cleared {
		return t.inst.hwError(op, SimErrInvalidConfigured)
	}
	return nil
}

// ConfigureChannels stores the input settings.
func (t *SimTask) ConfigureChannels(rangeV float64, coupling Coupling, terminal TerminalMode) error {
	if err := t.check("ConfigureChannels"); err != nil {
		return err
	}
	t.rangeV, t.coupling, t.terminal = rangeV, coupling, terminal
	return nil
}

// ConfigureTrigger stores the trigger settings.
func (t *SimTask) ConfigureTrigger(edge Edge, pretrigger int) error {
	if err := t.check("ConfigureTrigger"); err != nil {
		return err
	}
	if pretrigger < DevPretriggerSamplesMin {
		return t.inst.hwError("ConfigureTrigger", SimErrInvalidConfigured)
	}
	t.edge, t.pre = edge, pretrigger
	return nil
}

// ConfigureClock stores the clock settings. The rate is coerced to a whole
// number of Hz, as a stand-in for the device's rate coercion.
func (t *SimTask) ConfigureClock(rate float64, edge Edge, mode SampleMode, total int) (float64, error) {
	if err := t.check("ConfigureClock"); err != nil {
		return 0, err
	}
	if mode != FiniteSamples || total < DevSamplesMin || total > DevSamplesMax {
		return 0, t.inst.hwError("ConfigureClock", SimErrInvalidConfigured)
	}
	t.rate = float64(int(rate + 0.5))
	t.total = total
	return t.rate, nil
}

// Commit marks the task committed.
func (t *SimTask) Commit() error {
	if err := t.check("Commit"); err != nil {
		return err
	}
	t.committed = true
	return nil
}

// Start begins a new finite acquisition of the configured total.
func (t *SimTask) Start() error {
	if err := t.check("Start"); err != nil {
		return err
	}
	if t.inst.StartDelay > 0 {
		time.Sleep(t.inst.StartDelay)
	}
	t.Lock()
	defer t.Unlock()
	t.running = true
	t.triggered = t.inst.AutoTrigger
	t.pos = 0
	t.starts++
	return nil
}

// Stop ends the acquisition. Stopping a stopped task is not an error.
func (t *SimTask) Stop() error {
	if err := t.check("Stop"); err != nil {
		return err
	}
	t.Lock()
	defer t.Unlock()
	t.running = false
	t.stops++
	return nil
}

// Clear releases the task; later operations fail.
func (t *SimTask) Clear() error {
	if err := t.inst.failure("Clear"); err != nil {
		return err
	}
	t.Lock()
	t.running = false
	t.clears++
	t.Unlock()
	t.cleared = true
	return nil
}

// Read implements the ReadAuto and blocking semantics of Task.Read.
func (t *SimTask) Read(ctx context.Context, count int, timeout time.Duration, buf []float64) (int, error) {
	if err := t.check("Read"); err != nil {
		return 0, err
	}
	t.Lock()
	t.requests = append(t.requests, count)
	running, triggered := t.running, t.triggered
	t.Unlock()
	if !running {
		return 0, t.inst.hwError("Read", SimErrTaskNotRunning)
	}
	capacity := len(buf) / DevNumChannels

	if count == ReadAuto {
		if !triggered {
			if !t.takeTrigger() {
				return 0, nil
			}
		}
		t.Lock()
		defer t.Unlock()
		n := t.total - t.pos
		if n > capacity {
			n = capacity
		}
		if t.inst.Chunk > 0 && n > t.inst.Chunk {
			n = t.inst.Chunk
		}
		t.fill(buf, n)
		return n, nil
	}

	if count > capacity {
		return 0, t.inst.hwError("Read", SimErrInvalidConfigured)
	}
	if !triggered {
		select {
		case <-t.inst.trigger:
			t.Lock()
			t.triggered = true
			t.Unlock()
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	t.Lock()
	defer t.Unlock()
	if t.pos+count > t.total {
		return 0, t.inst.hwError("Read", SimErrReadPastEnd)
	}
	t.fill(buf, count)
	return count, nil
}

// takeTrigger consumes a queued trigger without blocking.
func (t *SimTask) takeTrigger() bool {
	select {
	case <-t.inst.trigger:
		t.Lock()
		t.triggered = true
		t.Unlock()
		return true
	default:
		return false
	}
}

// fill writes n scans starting at t.pos. Caller holds the lock.
func (t *SimTask) fill(buf []float64, n int) {
	wave := t.inst.Waveform
	if wave == nil {
		wave = DefaultWaveform
	}
	for i := 0; i < n; i++ {
		for c := 0; c < DevNumChannels; c++ {
			buf[i*DevNumChannels+c] = wave(t.starts-1, t.pos+i, c)
		}
	}
	t.pos += n
}

// OverloadOccurred reports and clears any injected overload.
func (t *SimTask) OverloadOccurred() (bool, error) {
	if err := t.check("OverloadOccurred"); err != nil {
		return false, err
	}
	t.inst.Lock()
	defer t.inst.Unlock()
	if len(t.inst.overload) == 0 {
		return false, nil
	}
	t.overloadChans = strings.Join(t.inst.overload, ", ")
	t.inst.overload = nil
	return true, nil
}

// OverloadChannels names the channels of the last reported overload.
func (t *SimTask) OverloadChannels() (string, error) {
	if err := t.check("OverloadChannels"); err != nil {
		return "", err
	}
	return t.overloadChans, nil
}

// VoltageRange is the configured range.
func (t *SimTask) VoltageRange() (float64, error) {
	return t.rangeV, nil
}

// Gain is 0 dB on every range.
func (t *SimTask) Gain() (float64, error) {
	return 0, nil
}

// Starts counts calls to Start.
func (t *SimTask) Starts() int {
	t.Lock()
	defer t.Unlock()
	return t.starts
}

// Stops counts calls to Stop.
func (t *SimTask) Stops() int {
	t.Lock()
	defer t.Unlock()
	return t.stops
}

// Clears counts calls to Clear.
func (t *SimTask) Clears() int {
	t.Lock()
	defer t.Unlock()
	return t.clears
}

// Requests lists the count argument of every Read.
func (t *SimTask) Requests() []int {
	t.Lock()
	defer t.Unlock()
	return append([]int{}, t.requests...)
}

// Total is the samples per channel of the configured clock.
func (t *SimTask) Total() int {
	return t.total
}

// Rate is the coerced sample rate.
func (t *SimTask) Rate() float64 {
	return t.rate
}
