package nicapture

import (
	"os"

	"github.com/astrogo/fitsio"
)

// FITSExporter writes the pixel rows of every IMAGE or IMAGE_DIFFERENCE
// record as one float64 image HDU of 4 x P values.
type FITSExporter struct {
	file   *os.File
	fits   *fitsio.File
	frames int
}

// NewFITSExporter creates the FITS file at path.
func NewFITSExporter(path string) (*FITSExporter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	fits, err := fitsio.Create(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FITSExporter{file: f, fits: fits}, nil
}

// WriteFrame appends an image HDU for rec. Records of other modes, and
// partial records, are skipped.
func (fe *FITSExporter) WriteFrame(rec *FrameRecord) error {
	if rec.Partial || !rec.Mode.Imaging() || len(rec.Rows) == 0 {
		return nil
	}
	nchan := len(rec.Rows[0])
	dims := []int{nchan, len(rec.Rows)}
	im := fitsio.NewImage(-64, dims)
	defer im.Close()
	cards := []fitsio.Card{
		{Name: "FRAME", Value: rec.Index, Comment: "frame number"},
		{Name: "ENDTIME", Value: rec.End, Comment: "corrected end timestamp [s]"},
		{Name: "OVERLOAD", Value: rec.Overload, Comment: "overload occurred"},
		{Name: "MISSTRIG", Value: rec.MissedTrigger, Comment: "missed trigger suspected"},
		{Name: "MODE", Value: rec.Mode.String(), Comment: "analysis mode"},
	}
	if err := im.Header().Append(cards...); err != nil {
		return err
	}
	data := make([]float64, 0, nchan*len(rec.Rows))
	for _, row := range rec.Rows {
		data = append(data, row...)
	}
	if err := im.Write(data); err != nil {
		return err
	}
	if err := fe.fits.Write(im); err != nil {
		return err
	}
	fe.frames++
	return nil
}

// Frames is the number of images written.
func (fe *FITSExporter) Frames() int {
	return fe.frames
}

// Close finishes and closes the file.
func (fe *FITSExporter) Close() error {
	err := fe.fits.Close()
	if cerr := fe.file.Close(); err == nil {
		err = cerr
	}
	return err
}
