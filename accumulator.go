package nicapture

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Values a freshly reset accumulator reports as min and max.
const (
	resetMin = 1e10
	resetMax = -1e10
)

// roundingTolerance is the relative size (compared with the largest term that
// produced it) below which a negative radicand counts as rounding noise.
const roundingTolerance = 1e-9

// FrameResult holds the reduced statistics of one channel of one frame.
type FrameResult struct {
	N        int     // number of data points reduced
	BDx      float64 // total change estimate b*n
	A        float64 // intercept
	B        float64 // slope
	S        float64 // residual sigma
	SeA      float64 // standard error of A
	SeB      float64 // standard error of B
	R        float64 // Pearson correlation
	Min      float64
	Max      float64
	Mean     float64
	StdDev   float64
	CDSDelta float64
	CDSError float64

	// Degenerate lists the conditions that made some fields NaN.
	Degenerate []string
}

// ChannelAccumulator holds the running sums for one channel in one frame.
type ChannelAccumulator struct {
	Sx, Sxx, Sy, Syy, Sxy float64
	SyH1, SyyH1           float64 // first CDS half
	SyH2, SyyH2           float64 // last CDS half
	Min, Max              float64
	Count                 int
}

func (ca *ChannelAccumulator) reset() {
	*ca = ChannelAccumulator{Min: resetMin, Max: resetMax}
}

// Accumulator keeps running sufficient statistics for every channel of the
// current frame, so a frame never needs to be buffered to be reduced.
type Accumulator struct {
	channels []ChannelAccumulator
	usable   int // logical positions per frame
	cdsM     int // CDS half-width; 0 disables the split-half sums
}

// NewAccumulator makes an Accumulator for nchan channels, frames of usable
// logical positions and CDS half-width cdsM (0 for none).
func NewAccumulator(nchan, usable, cdsM int) *Accumulator {
	acc := &Accumulator{channels: make([]ChannelAccumulator, nchan), usable: usable, cdsM: cdsM}
	acc.Reset()
	return acc
}

// Reset zeroes all sums at the start of a frame.
func (acc *Accumulator) Reset() {
	for i := range acc.channels {
		acc.channels[i].reset()
	}
}

// Channel returns the sums of one channel.
func (acc *Accumulator) Channel(c int) ChannelAccumulator {
	return acc.channels[c]
}

// Add accumulates value y at logical position x of channel c.
func (acc *Accumulator) Add(c int, x int, y float64) {
	ca := &acc.channels[c]
	fx := float64(x)
	ca.Sx += fx
	ca.Sxx += fx * fx
	ca.Sy += y
	ca.Syy += y * y
	ca.Sxy += fx * y
	if y < ca.Min {
		ca.Min = y
	}
	if y > ca.Max {
		ca.Max = y
	}
	ca.Count++
	if acc.cdsM <= 0 {
		return
	}
	if x < acc.cdsM {
		ca.SyH1 += y
		ca.SyyH1 += y * y
	} else if x >= acc.usable-acc.cdsM {
		ca.SyH2 += y
		ca.SyyH2 += y * y
	}
}

// AddTuple accumulates one scan (one value per channel) at logical position x.
func (acc *Accumulator) AddTuple(x int, values []float64) {
	for c, y := range values {
		acc.Add(c, x, y)
	}
}

// guardedSqrt returns sqrt(|radicand|) when radicand is non-negative or
// negative by no more than rounding noise relative to scale, the magnitude of
// the largest term that produced it. Otherwise it returns NaN and false.
func guardedSqrt(radicand, scale float64) (float64, bool) {
	if math.IsNaN(radicand) {
		return math.NaN(), false
	}
	if radicand >= 0 {
		return math.Sqrt(radicand), true
	}
	if -radicand <= roundingTolerance*math.Abs(scale) {
		return math.Sqrt(-radicand), true
	}
	return math.NaN(), false
}

func maxAbs(x ...float64) float64 {
	m := 0.0
	for _, v := range x {
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	return m
}

// Finalize computes the closed-form estimates from n data points for every
// channel. The sums are not modified.
func (acc *Accumulator) Finalize(n int) []FrameResult {
	results := make([]FrameResult, len(acc.channels))
	for c := range acc.channels {
		results[c] = acc.finalizeChannel(&acc.channels[c], n)
	}
	return results
}

func (acc *Accumulator) finalizeChannel(ca *ChannelAccumulator, n int) FrameResult {
	nan := math.NaN()
	res := FrameResult{N: n, Min: ca.Min, Max: ca.Max,
		BDx: nan, A: nan, B: nan, S: nan, SeA: nan, SeB: nan, R: nan,
		Mean: nan, StdDev: nan, CDSDelta: nan, CDSError: nan}
	degenerate := func(format string, args ...any) {
		res.Degenerate = append(res.Degenerate, fmt.Sprintf(format, args...))
	}
	if n <= 0 {
		degenerate("no data points")
		return res
	}
	fn := float64(n)
	res.Mean = ca.Sy / fn

	if n > 1 {
		sd, ok := guardedSqrt((ca.Syy-ca.Sy*ca.Sy/fn)/(fn-1), maxAbs(ca.Syy, ca.Sy*ca.Sy/fn)/(fn-1))
		if !ok {
			degenerate("negative variance")
		}
		res.StdDev = sd
	} else {
		degenerate("stddev needs n >= 2, have %d", n)
	}

	sxxD := fn*ca.Sxx - ca.Sx*ca.Sx
	syyD := fn*ca.Syy - ca.Sy*ca.Sy
	sxyD := fn*ca.Sxy - ca.Sx*ca.Sy
	if sxxD == 0 {
		degenerate("n*Sxx == Sx^2")
	} else {
		res.B = sxyD / sxxD
		res.A = ca.Sy/fn - res.B*ca.Sx/fn
		res.BDx = res.B * fn
	}

	if n < 3 {
		degenerate("regression needs n >= 3, have %d", n)
	} else if sxxD != 0 {
		k := 1.0 / (fn * (fn - 2))
		bb := res.B * res.B * sxxD
		s, ok := guardedSqrt(k*(syyD-bb), k*maxAbs(fn*ca.Syy, ca.Sy*ca.Sy, bb))
		if !ok {
			degenerate("negative residual variance")
		}
		res.S = s
		res.SeB = math.Sqrt(math.Abs(fn * s * s / sxxD))
		res.SeA = math.Sqrt(res.SeB * res.SeB * ca.Sxx / fn)
	}

	if sxxD != 0 {
		den, ok := guardedSqrt(sxxD*syyD, maxAbs(fn*ca.Sxx, ca.Sx*ca.Sx)*maxAbs(fn*ca.Syy, ca.Sy*ca.Sy))
		switch {
		case !ok:
			degenerate("negative correlation radicand")
		case den == 0:
			degenerate("constant signal, correlation undefined")
		default:
			res.R = sxyD / den
		}
	}

	if m := acc.cdsM; m > 0 {
		fm := float64(m)
		if n == m {
			degenerate("CDS needs n != M")
		} else {
			res.CDSDelta = ((ca.SyH2 - ca.SyH1) / fm) * (fn / (fn - fm))
		}
		if m < 2 {
			degenerate("CDS variance needs M >= 2")
		} else {
			sd1, ok1 := guardedSqrt((ca.SyyH1-ca.SyH1*ca.SyH1/fm)/(fm-1), maxAbs(ca.SyyH1, ca.SyH1*ca.SyH1/fm)/(fm-1))
			sd2, ok2 := guardedSqrt((ca.SyyH2-ca.SyH2*ca.SyH2/fm)/(fm-1), maxAbs(ca.SyyH2, ca.SyH2*ca.SyH2/fm)/(fm-1))
			if !ok1 || !ok2 {
				degenerate("negative CDS half variance")
			}
			res.CDSError = floats.Norm([]float64{sd1, sd2}, 2) / fm
		}
	}
	return res
}

// quadrature returns sqrt(sum of squares) of x.
func quadrature(x ...float64) float64 {
	return floats.Norm(x, 2)
}
