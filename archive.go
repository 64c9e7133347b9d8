package nicapture

import (
	"fmt"
	"os"

	"github.com/sbinet/npyio"
	"github.com/usnistgov/nicapture/internal/appendablenpy"
	"gonum.org/v1/gonum/mat"
)

// summaryRow is the numeric row kept for rec: the record fields for the
// regression and CDS modes, otherwise frame, end, overload, missed, then
// mean and stddev per channel.
func summaryRow(rec *FrameRecord) []float64 {
	if v := rec.Values(); v != nil {
		return v
	}
	row := []float64{float64(rec.Index), rec.End, b2f(rec.Overload), b2f(rec.MissedTrigger)}
	for c := range rec.Results {
		row = append(row, rec.Results[c].Mean)
	}
	for c := range rec.Results {
		row = append(row, rec.Results[c].StdDev)
	}
	return row
}

// ResultArchive streams one summary row per frame into a growing 2-d
// float64 .npy array. The file is created with the first row.
type ResultArchive struct {
	path string
	w    *appendablenpy.Writer
}

// NewResultArchive makes an archive that will be saved to path.
func NewResultArchive(path string) *ResultArchive {
	return &ResultArchive{path: path}
}

// WriteFrame appends the row for rec. Partial records are skipped.
func (ra *ResultArchive) WriteFrame(rec *FrameRecord) error {
	if rec.Partial {
		return nil
	}
	row := summaryRow(rec)
	if ra.w == nil {
		w, err := appendablenpy.Create(ra.path, len(row))
		if err != nil {
			return err
		}
		ra.w = w
	}
	if err := ra.w.Append([][]float64{row}); err != nil {
		return fmt.Errorf("archive row for frame %d: %w", rec.Index, err)
	}
	return nil
}

// Rows is the number of rows written so far.
func (ra *ResultArchive) Rows() int {
	if ra.w == nil {
		return 0
	}
	return ra.w.Rows()
}

// Close closes the file. An archive with no rows leaves no file.
func (ra *ResultArchive) Close() error {
	if ra.w == nil {
		return nil
	}
	return ra.w.Close()
}

// ReadResultArchive loads a result archive written by ResultArchive.
func ReadResultArchive(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, err
	}
	var m mat.Dense
	if err := r.Read(&m); err != nil {
		return nil, err
	}
	return &m, nil
}
