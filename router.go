package nicapture

// SampleClass is the role of one sample position within a frame.
type SampleClass int

// The classes a Router assigns
const (
	PreGuard SampleClass = iota
	Data
	InternalGuard
	PostGuard
	numSampleClasses
)

var sampleClassNames = [...]string{"PRE_GUARD", "DATA", "INTERNAL_GUARD", "POST_GUARD"}

func (sc SampleClass) String() string {
	if sc < 0 || sc >= numSampleClasses {
		return "UNKNOWN"
	}
	return sampleClassNames[sc]
}

// Router maps a position within a frame to its SampleClass and logical index.
// It holds no state beyond the frame geometry, so results depend only on the
// position.
type Router struct {
	samples int
	pre     int
	post    int
	stride  int // guard_internal + 1 in imaging modes, 1 otherwise
}

// NewRouter builds the Router for cfg.
func NewRouter(cfg *AcquisitionConfig) *Router {
	stride := 1
	if cfg.Mode.Imaging() {
		stride = cfg.GuardInternal + 1
	}
	return &Router{samples: cfg.Samples, pre: cfg.GuardPre, post: cfg.GuardPost, stride: stride}
}

// Classify returns the class of position pos and, for Data, its logical
// index (the regression x or the pixel number). The index is -1 otherwise.
func (r *Router) Classify(pos int) (SampleClass, int) {
	if pos < r.pre {
		return PreGuard, -1
	}
	if pos >= r.samples-r.post {
		return PostGuard, -1
	}
	k := pos - r.pre
	if k%r.stride != 0 {
		return InternalGuard, -1
	}
	return Data, k / r.stride
}

// Route is Classify without the logical index.
func (r *Router) Route(pos int) SampleClass {
	class, _ := r.Classify(pos)
	return class
}

// RawSink receives every scan of a frame, guards included, for the raw dump.
type RawSink interface {
	RawTuple(frame, sample int, values []float64) error
}

// RawBuffer keeps the data samples of one frame per channel, for RAW mode.
type RawBuffer struct {
	Values [][]float64
}

// NewRawBuffer makes a buffer of n samples for each of nchan channels.
func NewRawBuffer(nchan, n int) *RawBuffer {
	rb := &RawBuffer{Values: make([][]float64, nchan)}
	for c := range rb.Values {
		rb.Values[c] = make([]float64, n)
	}
	return rb
}

// Row returns the scan at logical index i.
func (rb *RawBuffer) Row(i int) []float64 {
	row := make([]float64, len(rb.Values))
	for c := range rb.Values {
		row[c] = rb.Values[c][i]
	}
	return row
}

// PixelBuffer holds P pixels per channel for an even and an odd frame. The
// halves persist across frames so that IMAGE_DIFFERENCE can pair them.
type PixelBuffer struct {
	Even [][]float64
	Odd  [][]float64
	diff bool
}

// NewPixelBuffer makes the buffer for nchan channels of P pixels. With diff
// false every frame writes the Even half.
func NewPixelBuffer(nchan, pixels int, diff bool) *PixelBuffer {
	pb := &PixelBuffer{Even: make([][]float64, nchan), Odd: make([][]float64, nchan), diff: diff}
	for c := 0; c < nchan; c++ {
		pb.Even[c] = make([]float64, pixels)
		pb.Odd[c] = make([]float64, pixels)
	}
	return pb
}

// Half returns the half written by frame.
func (pb *PixelBuffer) Half(frame int) [][]float64 {
	if pb.diff && frame%2 == 1 {
		return pb.Odd
	}
	return pb.Even
}

// Pixel returns the scan for pixel i of the half written by frame.
func (pb *PixelBuffer) Pixel(frame, i int) []float64 {
	half := pb.Half(frame)
	row := make([]float64, len(half))
	for c := range half {
		row[c] = half[c][i]
	}
	return row
}

// Difference returns even minus odd for pixel i.
func (pb *PixelBuffer) Difference(i int) []float64 {
	row := make([]float64, len(pb.Even))
	for c := range pb.Even {
		row[c] = pb.Even[c][i] - pb.Odd[c][i]
	}
	return row
}

// FrameRouter applies a Router to the sample stream of one frame at a time,
// tracking the position across however many blocks the frame arrives in.
type FrameRouter struct {
	router   *Router
	acc      *Accumulator
	channels int
	raw      *RawBuffer
	pixels   *PixelBuffer
	dump     RawSink

	frame  int
	pos    int
	counts [numSampleClasses]int
}

// NewFrameRouter wires the sinks for cfg's mode. dump may be nil.
func NewFrameRouter(cfg *AcquisitionConfig, acc *Accumulator, dump RawSink) *FrameRouter {
	fr := &FrameRouter{router: NewRouter(cfg), acc: acc, channels: cfg.Channels, dump: dump}
	switch {
	case cfg.Mode == Raw:
		fr.raw = NewRawBuffer(cfg.Channels, cfg.DataCount())
	case cfg.Mode.Imaging():
		fr.pixels = NewPixelBuffer(cfg.Channels, cfg.Pixels, cfg.Mode == ImageDifference)
	}
	return fr
}

// Begin starts frame number frame: the position and counts go to zero and
// the accumulator is reset.
func (fr *FrameRouter) Begin(frame int) {
	fr.frame = frame
	fr.pos = 0
	fr.counts = [numSampleClasses]int{}
	fr.acc.Reset()
}

// Dispatch routes a channel-interleaved block of whole scans.
func (fr *FrameRouter) Dispatch(block []float64) error {
	nscan := len(block) / fr.channels
	for i := 0; i < nscan; i++ {
		tuple := block[i*fr.channels : (i+1)*fr.channels]
		if fr.dump != nil {
			if err := fr.dump.RawTuple(fr.frame, fr.pos, tuple); err != nil {
				return err
			}
		}
		class, x := fr.router.Classify(fr.pos)
		fr.counts[class]++
		fr.pos++
		if class != Data {
			continue
		}
		fr.acc.AddTuple(x, tuple)
		if fr.raw != nil {
			for c, v := range tuple {
				fr.raw.Values[c][x] = v
			}
		}
		if fr.pixels != nil {
			half := fr.pixels.Half(fr.frame)
			for c, v := range tuple {
				half[c][x] = v
			}
		}
	}
	return nil
}

// Position is the number of scans seen so far in this frame.
func (fr *FrameRouter) Position() int {
	return fr.pos
}

// Count returns how many scans of the current frame fell in class.
func (fr *FrameRouter) Count(class SampleClass) int {
	return fr.counts[class]
}

// Raw is the RAW mode buffer, or nil.
func (fr *FrameRouter) Raw() *RawBuffer {
	return fr.raw
}

// Pixels is the imaging buffer, or nil.
func (fr *FrameRouter) Pixels() *PixelBuffer {
	return fr.pixels
}
