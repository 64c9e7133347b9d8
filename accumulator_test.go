package nicapture

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/stat"
)

// pseudoNoise returns a deterministic value in [-1, 1) for index i.
func pseudoNoise(i int) float64 {
	x := math.Sin(float64(i)*12.9898) * 43758.5453
	return 2*(x-math.Floor(x)) - 1
}

func TestAccumulatorExactLine(t *testing.T) {
	const a, b = 2.5, -0.75
	const n = 50
	acc := NewAccumulator(DevNumChannels, n, 0)
	for x := 0; x < n; x++ {
		y := a + b*float64(x)
		acc.AddTuple(x, []float64{y, y, y, y})
	}
	for c, r := range acc.Finalize(n) {
		assert.InDelta(t, b, r.B, 1e-12, "channel %d slope", c)
		assert.InDelta(t, a, r.A, 1e-12, "channel %d intercept", c)
		assert.InDelta(t, -1.0, r.R, 1e-12, "channel %d correlation", c)
		assert.InDelta(t, 0.0, r.S, 1e-6, "channel %d residual sigma", c)
		assert.InDelta(t, b*n, r.BDx, 1e-10, "channel %d b_Dx", c)
		assert.InDelta(t, a+b*(n-1)/2.0, r.Mean, 1e-12, "channel %d mean", c)
		assert.Equal(t, a+b*(n-1), r.Min)
		assert.Equal(t, a, r.Max)
		assert.Empty(t, r.Degenerate)
	}
}

func TestAccumulatorConvergence(t *testing.T) {
	const a, b = 0.01, 3e-4
	const n = 200
	prevErr := math.Inf(1)
	for _, noise := range []float64{1e-2, 1e-4, 1e-6} {
		acc := NewAccumulator(1, n, 0)
		for x := 0; x < n; x++ {
			acc.Add(0, x, a+b*float64(x)+noise*pseudoNoise(x))
		}
		r := acc.Finalize(n)[0]
		slopeErr := math.Abs(r.B - b)
		if slopeErr > noise {
			t.Errorf("noise %g: slope error %g, want < %g", noise, slopeErr, noise)
		}
		if slopeErr > prevErr {
			t.Errorf("noise %g: slope error %g grew from %g", noise, slopeErr, prevErr)
		}
		if r.S > noise {
			t.Errorf("noise %g: residual sigma %g, want < %g", noise, r.S, noise)
		}
		prevErr = slopeErr
	}
}

func TestAccumulatorMatchesStat(t *testing.T) {
	const n = 137
	xs := make([]float64, n)
	ys := make([]float64, n)
	acc := NewAccumulator(1, n, 0)
	for x := 0; x < n; x++ {
		xs[x] = float64(x)
		ys[x] = 0.2 - 1e-3*float64(x) + 0.05*pseudoNoise(x)
		acc.Add(0, x, ys[x])
	}
	r := acc.Finalize(n)[0]
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	assert.InDelta(t, alpha, r.A, 1e-12)
	assert.InDelta(t, beta, r.B, 1e-14)
	assert.InDelta(t, stat.Correlation(xs, ys, nil), r.R, 1e-12)
	mean, sd := stat.MeanStdDev(ys, nil)
	assert.InDelta(t, mean, r.Mean, 1e-14)
	assert.InDelta(t, sd, r.StdDev, 1e-12)
}

func TestGuardedSqrt(t *testing.T) {
	tests := []struct {
		radicand, scale float64
		want            float64
		ok              bool
	}{
		{4, 1, 2, true},
		{0, 0, 0, true},
		{-1e-12, 100, 1e-6, true},        // rounding noise of a large sum
		{-1e-3, 100, math.NaN(), false}, // genuinely negative
		{-1, 0, math.NaN(), false},
		{math.NaN(), 1, math.NaN(), false},
	}
	for _, tt := range tests {
		got, ok := guardedSqrt(tt.radicand, tt.scale)
		if ok != tt.ok {
			t.Errorf("guardedSqrt(%g, %g) ok=%v, want %v", tt.radicand, tt.scale, ok, tt.ok)
		}
		if math.IsNaN(tt.want) {
			if !math.IsNaN(got) {
				t.Errorf("guardedSqrt(%g, %g)=%g, want NaN", tt.radicand, tt.scale, got)
			}
		} else if math.Abs(got-tt.want) > 1e-15 {
			t.Errorf("guardedSqrt(%g, %g)=%g, want %g", tt.radicand, tt.scale, got, tt.want)
		}
	}
}

func TestAccumulatorNegativeVarianceNotHidden(t *testing.T) {
	acc := NewAccumulator(1, 10, 0)
	for x := 0; x < 10; x++ {
		acc.Add(0, x, float64(x))
	}
	// Corrupt the sums so that Syy - Sy^2/n is far below zero.
	acc.channels[0].Syy = 1
	r := acc.Finalize(10)[0]
	assert.True(t, math.IsNaN(r.StdDev), "stddev of an impossible variance should be NaN, got %g", r.StdDev)
	assert.NotEmpty(t, r.Degenerate)
}

func TestAccumulatorDegenerate(t *testing.T) {
	// Two points: regression needs three.
	acc := NewAccumulator(1, 2, 0)
	acc.Add(0, 0, 1.0)
	acc.Add(0, 1, 2.0)
	r := acc.Finalize(2)[0]
	assert.True(t, math.IsNaN(r.S))
	assert.True(t, math.IsNaN(r.SeB))
	assert.InDelta(t, 1.0, r.B, 1e-15)
	assert.NotEmpty(t, r.Degenerate)

	// All x equal: n*Sxx == Sx^2.
	acc = NewAccumulator(1, 5, 0)
	for i := 0; i < 5; i++ {
		acc.Add(0, 0, float64(i))
	}
	r = acc.Finalize(5)[0]
	assert.True(t, math.IsNaN(r.B))
	assert.True(t, math.IsNaN(r.R))
	assert.InDelta(t, 2.0, r.Mean, 1e-15)

	// Constant signal: correlation undefined, slope zero.
	acc = NewAccumulator(1, 5, 0)
	for x := 0; x < 5; x++ {
		acc.Add(0, x, 0.25)
	}
	r = acc.Finalize(5)[0]
	assert.Equal(t, 0.0, r.B)
	assert.True(t, math.IsNaN(r.R))

	// No data at all.
	acc = NewAccumulator(1, 5, 0)
	r = acc.Finalize(0)[0]
	assert.True(t, math.IsNaN(r.Mean))
	assert.NotEmpty(t, r.Degenerate)
}

func TestAccumulatorCDS(t *testing.T) {
	const usable, m = 20, 5
	acc := NewAccumulator(1, usable, m)
	for x := 0; x < usable; x++ {
		acc.Add(0, x, float64(x))
	}
	ca := acc.Channel(0)
	assert.Equal(t, 10.0, ca.SyH1) // 0+1+2+3+4
	assert.Equal(t, 85.0, ca.SyH2) // 15+...+19
	r := acc.Finalize(usable)[0]
	assert.InDelta(t, 20.0, r.CDSDelta, 1e-12)
	assert.InDelta(t, math.Sqrt(5)/m, r.CDSError, 1e-12)

	// M == 1 leaves the CDS error undefined.
	acc = NewAccumulator(1, usable, 1)
	for x := 0; x < usable; x++ {
		acc.Add(0, x, float64(x))
	}
	r = acc.Finalize(usable)[0]
	assert.InDelta(t, 19.0*20/19, r.CDSDelta, 1e-12)
	assert.True(t, math.IsNaN(r.CDSError))
}

func TestAccumulatorReset(t *testing.T) {
	acc := NewAccumulator(2, 4, 2)
	acc.AddTuple(0, []float64{1, 2})
	acc.Reset()
	for c := 0; c < 2; c++ {
		ca := acc.Channel(c)
		if ca.Sy != 0 || ca.Count != 0 || ca.SyH1 != 0 {
			t.Errorf("channel %d not zeroed by Reset: %+v", c, ca)
		}
		if ca.Min != 1e10 || ca.Max != -1e10 {
			t.Errorf("channel %d min,max = %g,%g after Reset, want 1e10,-1e10", c, ca.Min, ca.Max)
		}
	}
}

func TestQuadrature(t *testing.T) {
	if q := quadrature(3, 4); math.Abs(q-5) > 1e-15 {
		t.Errorf("quadrature(3,4)=%g, want 5", q)
	}
}
