package asyncbufio

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWrite(t *testing.T) {
	f, err := os.CreateTemp("", "nicapture_async")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name()) // clean up

	var want strings.Builder
	w := NewWriter(f, 10, time.Second)
	buf := make([]byte, 0, 64)
	for i := range 100 {
		// Reuse one buffer: the Writer must copy what it is given.
		buf = fmt.Appendf(buf[:0], "%d\t%f\t%d\t%d\n", i, float64(i)*0.5, i%2, 0)
		want.Write(buf)
		w.Write(buf)
		if i%25 == 19 {
			assert.NoError(t, w.Flush())
		}
	}
	w.WriteString("#Frame: last\n")
	want.WriteString("#Frame: last\n")
	assert.NoError(t, w.Close())
	f.Close()

	actual, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	if string(actual) != want.String() {
		t.Errorf("file contents differ: got %d bytes, want %d bytes", len(actual), want.Len())
	}

	// Tricky way to test for an expected panic:
	defer func() { recover() }()
	w.Flush()
	t.Errorf("asyncbufio.Writer.Flush() after .Close() did not panic")
}

func TestCloseTwice(t *testing.T) {
	var b bytes.Buffer
	w := NewWriter(&b, 100, time.Second)
	w.Close()

	// Tricky way to test for an expected panic:
	defer func() { recover() }()
	w.Close()
	t.Errorf("asyncbufio.Writer.Close() after .Close() did not panic")
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestWriteError(t *testing.T) {
	w := NewWriter(failingWriter{}, 4, time.Hour)
	w.WriteString("hello\n")
	err := w.Flush()
	assert.EqualError(t, err, "disk full")
	_, err = w.WriteString("more\n")
	assert.Error(t, err)
	assert.Error(t, w.Close())
}
