package nicapture

import (
	"github.com/usnistgov/nicapture/internal/appendablenpy"
)

// RowArchive streams the per-sample rows of RAW frames and the pixel rows of
// the imaging modes into one growing (rows, channels) .npy array.
type RowArchive struct {
	w *appendablenpy.Writer
}

// NewRowArchive creates the file at path for nchan columns.
func NewRowArchive(path string, nchan int) (*RowArchive, error) {
	w, err := appendablenpy.Create(path, nchan)
	if err != nil {
		return nil, err
	}
	return &RowArchive{w: w}, nil
}

// WriteFrame appends the rows of rec. Records without rows are skipped.
func (ra *RowArchive) WriteFrame(rec *FrameRecord) error {
	if rec.Partial {
		return nil
	}
	return ra.w.Append(rec.Rows)
}

// Rows is the number of rows written so far.
func (ra *RowArchive) Rows() int {
	return ra.w.Rows()
}

// Close closes the file.
func (ra *RowArchive) Close() error {
	return ra.w.Close()
}
