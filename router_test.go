package nicapture

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouterClassify(t *testing.T) {
	linreg := looseConfig(Params{Mode: LinearRegression, Samples: 10, GuardPre: 1, GuardPost: 1})
	// 2 + 5 + 4*2 + 3 == 18
	image := looseConfig(Params{Mode: Image, Samples: 18, GuardPre: 2, GuardPost: 3, GuardInternal: 2, Pixels: 5})
	tests := []struct {
		cfg   *AcquisitionConfig
		pos   int
		class SampleClass
		x     int
	}{
		{linreg, 0, PreGuard, -1},
		{linreg, 1, Data, 0},
		{linreg, 5, Data, 4},
		{linreg, 8, Data, 7},
		{linreg, 9, PostGuard, -1},
		{image, 0, PreGuard, -1},
		{image, 1, PreGuard, -1},
		{image, 2, Data, 0},
		{image, 3, InternalGuard, -1},
		{image, 4, InternalGuard, -1},
		{image, 5, Data, 1},
		{image, 14, Data, 4},
		{image, 15, PostGuard, -1},
		{image, 17, PostGuard, -1},
	}
	for _, tt := range tests {
		r := NewRouter(tt.cfg)
		class, x := r.Classify(tt.pos)
		if class != tt.class || x != tt.x {
			t.Errorf("%s Classify(%d)=(%s, %d), want (%s, %d)", tt.cfg.Mode, tt.pos, class, x, tt.class, tt.x)
		}
		// Classification depends on the position only.
		class2, x2 := r.Classify(tt.pos)
		if class2 != class || x2 != x {
			t.Errorf("%s Classify(%d) not repeatable", tt.cfg.Mode, tt.pos)
		}
	}
	assert.Equal(t, "INTERNAL_GUARD", InternalGuard.String())
}

// route sends frame samples through a FrameRouter in blocks of chunk scans.
func route(cfg *AcquisitionConfig, block []float64, chunk int) (*FrameRouter, *Accumulator) {
	acc := NewAccumulator(cfg.Channels, cfg.DataCount(), 0)
	fr := NewFrameRouter(cfg, acc, nil)
	fr.Begin(0)
	step := chunk * cfg.Channels
	for i := 0; i < len(block); i += step {
		end := min(i+step, len(block))
		fr.Dispatch(block[i:end])
	}
	return fr, acc
}

func TestGuardAccounting(t *testing.T) {
	geometries := []struct{ pre, post, gi, pixels int }{
		{0, 0, 0, 7},
		{1, 1, 1, 10},
		{3, 2, 4, 6},
		{5, 0, 2, 1},
		{0, 7, 3, 25},
	}
	for _, g := range geometries {
		n := g.pre + g.pixels + (g.pixels-1)*g.gi + g.post
		cfg := looseConfig(Params{Mode: Image, Samples: n, GuardPre: g.pre, GuardPost: g.post,
			GuardInternal: g.gi, Pixels: g.pixels})
		block := make([]float64, n*cfg.Channels)
		for i := range block {
			block[i] = float64(i)
		}
		name := fmt.Sprintf("pre=%d post=%d gi=%d P=%d", g.pre, g.post, g.gi, g.pixels)
		var refAcc *Accumulator
		for _, chunk := range []int{1, 2, 3, n} {
			fr, acc := route(cfg, block, chunk)
			guards := fr.Count(PreGuard) + fr.Count(InternalGuard) + fr.Count(PostGuard)
			assert.Equal(t, g.pixels, fr.Count(Data), "%s chunk %d: data count", name, chunk)
			assert.Equal(t, n-g.pixels, guards, "%s chunk %d: guard count", name, chunk)
			assert.Equal(t, g.pre, fr.Count(PreGuard), "%s chunk %d: pre guards", name, chunk)
			assert.Equal(t, g.post, fr.Count(PostGuard), "%s chunk %d: post guards", name, chunk)
			if refAcc == nil {
				refAcc = acc
				continue
			}
			for c := 0; c < cfg.Channels; c++ {
				assert.Equal(t, refAcc.Channel(c), acc.Channel(c), "%s chunk %d: channel %d sums", name, chunk, c)
			}
		}
	}
}

func TestFrameRouterRawBuffer(t *testing.T) {
	cfg := looseConfig(Params{Mode: Raw, Samples: 10, GuardPre: 1, GuardPost: 1})
	block := make([]float64, 10*cfg.Channels)
	for i := 0; i < 10; i++ {
		for c := 0; c < cfg.Channels; c++ {
			block[i*cfg.Channels+c] = float64(10*c + i)
		}
	}
	fr, _ := route(cfg, block, 4)
	raw := fr.Raw()
	if raw == nil {
		t.Fatal("RAW mode FrameRouter has no RawBuffer")
	}
	assert.Equal(t, []float64{1, 11, 21, 31}, raw.Row(0))
	assert.Equal(t, []float64{8, 18, 28, 38}, raw.Row(7))
	assert.Nil(t, fr.Pixels())
}

func TestPixelBufferParity(t *testing.T) {
	// 1 + 3 + 2*1 + 1 == 7
	cfg := looseConfig(Params{Mode: ImageDifference, Samples: 7, GuardPre: 1, GuardPost: 1, GuardInternal: 1, Pixels: 3})
	acc := NewAccumulator(cfg.Channels, cfg.DataCount(), 0)
	fr := NewFrameRouter(cfg, acc, nil)
	for frame, value := range []float64{5, 2} {
		block := make([]float64, 7*cfg.Channels)
		for i := range block {
			block[i] = value
		}
		fr.Begin(frame)
		fr.Dispatch(block)
	}
	pb := fr.Pixels()
	assert.Equal(t, []float64{5, 5, 5, 5}, pb.Pixel(0, 2))
	assert.Equal(t, []float64{2, 2, 2, 2}, pb.Pixel(1, 2))
	assert.Equal(t, []float64{3, 3, 3, 3}, pb.Difference(0))

	// Plain IMAGE mode always writes the even half.
	single := NewPixelBuffer(1, 2, false)
	if &single.Half(1)[0][0] != &single.Even[0][0] {
		t.Error("IMAGE mode odd frame did not write the even half")
	}
}

type dumpRecorder struct {
	lines []string
}

func (d *dumpRecorder) RawTuple(frame, sample int, values []float64) error {
	d.lines = append(d.lines, fmt.Sprintf("%d,%d,%v", frame, sample, values))
	return nil
}

func TestFrameRouterDumpIncludesGuards(t *testing.T) {
	cfg := looseConfig(Params{Mode: LinearRegression, Samples: 5, GuardPre: 1, GuardPost: 1})
	acc := NewAccumulator(cfg.Channels, cfg.DataCount(), 0)
	dump := &dumpRecorder{}
	fr := NewFrameRouter(cfg, acc, dump)
	fr.Begin(3)
	fr.Dispatch(make([]float64, 2*cfg.Channels))
	fr.Dispatch(make([]float64, 3*cfg.Channels))
	assert.Len(t, dump.lines, 5)
	assert.Equal(t, "3,0,[0 0 0 0]", dump.lines[0])
	assert.Equal(t, "3,4,[0 0 0 0]", dump.lines[4])
	assert.Equal(t, 3, acc.Channel(0).Count)
}
