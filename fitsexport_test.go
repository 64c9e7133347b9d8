package nicapture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/stretchr/testify/assert"
)

func TestFITSExporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.fits")
	fe, err := NewFITSExporter(path)
	if err != nil {
		t.Fatal(err)
	}
	rows := [][]float64{{1, 2, 3, 4}, {5, 6, 7, 8}, {9, 10, 11, 12}}
	recs := []*FrameRecord{
		{Mode: Image, Index: 0, Rows: rows},
		{Mode: ImageDifference, Index: 2, Partial: true},
		{Mode: LinearRegression, Index: 3},
		{Mode: Image, Index: 4, Rows: rows, Overload: true},
	}
	for _, rec := range recs {
		if err := fe.WriteFrame(rec); err != nil {
			t.Fatal(err)
		}
	}
	assert.Equal(t, 2, fe.Frames())
	if err := fe.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	f, err := fitsio.Open(r)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	assert.Len(t, f.HDUs(), 2)
	img, ok := f.HDU(1).(fitsio.Image)
	if !ok {
		t.Fatalf("HDU 1 is %T, want an image", f.HDU(1))
	}
	assert.Equal(t, []int{4, 3}, img.Header().Axes())
	data := make([]float64, 12)
	if err := img.Read(&data); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, data)
	assert.NotNil(t, img.Header().Get("OVERLOAD"))
}
