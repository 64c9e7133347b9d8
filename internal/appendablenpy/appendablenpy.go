// Package appendablenpy writes 2-d float64 arrays in numpy's *.npy format,
// one block of rows at a time, keeping the header's row count current so the
// file is readable after every append.
package appendablenpy

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// npy file header must be a multiple of 64 bytes
const headerUnits = 64

const preheaderSize = 10

// rowDigits is the width reserved in the header for the row count.
const rowDigits = 10

// Writer appends rows of a fixed number of float64 columns to an .npy file.
type Writer struct {
	file     *os.File
	cols     int
	rows     int
	shapePtr int
	buf      []byte
}

// Create makes the file at path with an empty (0, cols) array.
func Create(path string, cols int) (*Writer, error) {
	if cols <= 0 {
		return nil, fmt.Errorf("appendablenpy: %d columns, want > 0", cols)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &Writer{file: f, cols: cols}
	if _, err := f.Write(w.header()); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) header() []byte {
	header := []byte{0x93, 'N', 'U', 'M', 'P', 'Y', 0x01, 0x00, 0, 0}
	header = append(header, "{'descr': '<f8', 'fortran_order': False, 'shape': ("...)
	w.shapePtr = len(header)
	header = append(header, fmt.Sprintf("%-*d, %d), }", rowDigits, 0, w.cols)...)

	// Header length goes into bytes 8-9, little-endian.
	nunits := (len(header) + headerUnits) / headerUnits
	headerSize := nunits*headerUnits - preheaderSize
	binary.LittleEndian.PutUint16(header[8:], uint16(headerSize))

	// Pad with spaces and one newline to the promised size.
	for len(header) < headerSize+preheaderSize-1 {
		header = append(header, ' ')
	}
	return append(header, '\n')
}

// Append writes rows, each of which must have exactly the column count, and
// updates the row count in the header.
func (w *Writer) Append(rows [][]float64) error {
	if len(rows) == 0 {
		return nil
	}
	w.buf = w.buf[:0]
	for i, row := range rows {
		if len(row) != w.cols {
			return fmt.Errorf("appendablenpy: row %d has %d columns, want %d", i, len(row), w.cols)
		}
		for _, v := range row {
			w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
		}
	}
	if _, err := w.file.Write(w.buf); err != nil {
		return err
	}
	w.rows += len(rows)
	if _, err := w.file.WriteAt([]byte(fmt.Sprintf("%-*d", rowDigits, w.rows)), int64(w.shapePtr)); err != nil {
		return err
	}
	_, err := w.file.Seek(0, io.SeekEnd)
	return err
}

// Rows is the number of rows written.
func (w *Writer) Rows() int {
	return w.rows
}

// Close closes the file.
func (w *Writer) Close() error {
	return w.file.Close()
}
