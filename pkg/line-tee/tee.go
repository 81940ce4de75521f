package tee

import (
	"bytes"
	"io"
)

// LineSaver is a wrapper around an io.Writer that also saves what is written to a buffer.
// The buffer is bounded: once saving a write would grow it past the limit,
// saving is abandoned for good while writes keep going to the underlying writer.
type LineSaver struct {
	w         io.Writer
	b         *bytes.Buffer
	limit     int
	abandoned bool
	written   int64
}

// NewLineSaver returns a new LineSaver writing through to w and saving at most limit bytes.
func NewLineSaver(w io.Writer, limit int) *LineSaver {
	return &LineSaver{
		w:     w,
		b:     &bytes.Buffer{},
		limit: limit,
	}
}

// Write writes p to the underlying writer first and saves it afterwards.
// Write errors of the underlying writer are returned as is, and nothing is saved in that case.
func (t *LineSaver) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	t.written += int64(n)
	if err != nil {
		return n, err
	}
	if !t.abandoned {
		if t.b.Len()+len(p) <= t.limit {
			t.b.Write(p)
		} else {
			t.abandoned = true
			t.b = &bytes.Buffer{}
		}
	}
	return len(p), nil
}

// Saved returns the saved bytes and whether they are the complete output.
// The slice is only valid until the next write.
func (t *LineSaver) Saved() ([]byte, bool) {
	if t.abandoned {
		return nil, false
	}
	return t.b.Bytes(), true
}

// Written returns the number of bytes written to the underlying writer.
func (t *LineSaver) Written() int64 {
	return t.written
}
