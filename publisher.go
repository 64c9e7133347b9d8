package nicapture

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/pebbe/zmq4"
	"github.com/usnistgov/nicapture/internal/unboundedchan"
)

// PublisherTopic is the first frame of every published message.
const PublisherTopic = "FRAME"

// publisherQueueLimit is how many unsent summaries are kept for a slow
// subscriber before the oldest are dropped.
const publisherQueueLimit = 1000

// jsonFloat encodes NaN and infinities as null, which encoding/json refuses to do.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func jsonFloats(x []float64) []jsonFloat {
	out := make([]jsonFloat, len(x))
	for i, v := range x {
		out[i] = jsonFloat(v)
	}
	return out
}

// FrameSummary is the JSON message published for each frame.
type FrameSummary struct {
	RunID            string
	Mode             string
	Frame            int
	EndTime          jsonFloat
	Overload         bool
	OverloadChannels string `json:",omitempty"`
	MissedTrigger    bool
	SlowRestart      bool
	Delta            []jsonFloat `json:",omitempty"`
	Error            []jsonFloat `json:",omitempty"`
	Mean             []jsonFloat
	StdDev           []jsonFloat
	Min              []jsonFloat
	Max              []jsonFloat
}

// NewFrameSummary extracts the published fields of rec.
func NewFrameSummary(runID string, rec *FrameRecord) *FrameSummary {
	fs := &FrameSummary{
		RunID:            runID,
		Mode:             rec.Mode.String(),
		Frame:            rec.Index,
		EndTime:          jsonFloat(rec.End),
		Overload:         rec.Overload,
		OverloadChannels: rec.OverloadChannels,
		MissedTrigger:    rec.MissedTrigger,
		SlowRestart:      rec.SlowRestart,
	}
	column := func(get func(r *FrameResult) float64) []jsonFloat {
		x := make([]float64, len(rec.Results))
		for c := range rec.Results {
			x[c] = get(&rec.Results[c])
		}
		return jsonFloats(x)
	}
	switch rec.Mode {
	case LinearRegression:
		fs.Delta = column(func(r *FrameResult) float64 { return r.BDx })
		fs.Error = column(func(r *FrameResult) float64 { return r.SeB * float64(r.N) })
	case CDSMultiple:
		fs.Delta = column(func(r *FrameResult) float64 { return r.CDSDelta })
		fs.Error = column(func(r *FrameResult) float64 { return r.CDSError * float64(r.N) })
	}
	fs.Mean = column(func(r *FrameResult) float64 { return r.Mean })
	fs.StdDev = column(func(r *FrameResult) float64 { return r.StdDev })
	fs.Min = column(func(r *FrameResult) float64 { return r.Min })
	fs.Max = column(func(r *FrameResult) float64 { return r.Max })
	return fs
}

// Publisher sends a FrameSummary for every complete frame on a ZMQ PUB
// socket. Messages pass through a limited queue, so WriteFrame never waits
// for the network.
type Publisher struct {
	runID  string
	queue  *unboundedchan.UnboundedChannel[[]byte]
	done   chan struct{}
	socket *zmq4.Socket
	zctx   *zmq4.Context
}

// StartPublisher binds a PUB socket on tcp port and starts the sending goroutine.
func StartPublisher(port int, runID string) (*Publisher, error) {
	zctx, err := zmq4.NewContext()
	if err != nil {
		return nil, err
	}
	socket, err := zctx.NewSocket(zmq4.PUB)
	if err != nil {
		zctx.Term()
		return nil, err
	}
	if err := socket.Bind(fmt.Sprintf("tcp://*:%d", port)); err != nil {
		socket.Close()
		zctx.Term()
		return nil, err
	}
	p := &Publisher{
		runID:  runID,
		queue:  unboundedchan.NewLimitedChannel[[]byte](publisherQueueLimit),
		done:   make(chan struct{}),
		socket: socket,
		zctx:   zctx,
	}
	go p.run()
	return p, nil
}

func (p *Publisher) run() {
	defer close(p.done)
	for msg := range p.queue.Out() {
		if _, err := p.socket.SendMessage(PublisherTopic, msg); err != nil {
			ProblemLogger.Printf("WARNING: publisher could not send: %v", err)
		}
	}
}

// WriteFrame queues the summary of rec. Partial records are skipped.
func (p *Publisher) WriteFrame(rec *FrameRecord) error {
	if rec.Partial {
		return nil
	}
	msg, err := json.Marshal(NewFrameSummary(p.runID, rec))
	if err != nil {
		return err
	}
	p.queue.In() <- msg
	return nil
}

// Dropped counts summaries discarded because no subscriber kept up.
func (p *Publisher) Dropped() int64 {
	return p.queue.Dropped()
}

// Close sends whatever is queued, then closes the socket.
func (p *Publisher) Close() error {
	close(p.queue.In())
	<-p.done
	if n := p.Dropped(); n > 0 {
		ProblemLogger.Printf("WARNING: publisher dropped %d frame summaries", n)
	}
	if err := p.socket.Close(); err != nil {
		return err
	}
	return p.zctx.Term()
}
