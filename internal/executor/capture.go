package executor

import (
	"bytes"
	"strings"
	"sync"
)

// captureWriter accumulates a stream in arrival order up to a byte cap.
// Bytes past the cap are counted but discarded. Writes are serialized
// because both streams may be written from the process reaper goroutines.
type captureWriter struct {
	max int64

	mu        sync.Mutex
	buf       bytes.Buffer
	total     int64
	truncated bool
}

func newCaptureWriter(max int64) *captureWriter {
	return &captureWriter{max: max}
}

func (w *captureWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.total += int64(len(p))
	if int64(w.buf.Len()) >= w.max {
		w.truncated = true
		return len(p), nil
	}
	remain := w.max - int64(w.buf.Len())
	if int64(len(p)) <= remain {
		_, _ = w.buf.Write(p)
		return len(p), nil
	}
	_, _ = w.buf.Write(p[:remain])
	w.truncated = true
	return len(p), nil
}

// Text returns the accumulated stream with trailing whitespace trimmed.
// Interior line separators are preserved as received.
func (w *captureWriter) Text() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.TrimRight(w.buf.String(), " \t\r\n")
}

// Total returns the number of bytes received, including discarded ones.
func (w *captureWriter) Total() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total
}
