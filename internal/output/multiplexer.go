// Package output frames child process byte streams into tagged lines and
// serialises them onto the host's output.
package output

import (
	"bytes"
	"io"
	"sync"
)

// Multiplexer writes "[tag] line" records to a shared writer. Each record
// is written with a single Write under a lock, so lines from concurrently
// running processes never interleave mid-line.
type Multiplexer struct {
	mu     sync.Mutex
	w      io.Writer
	onLine func(tag string)
}

// New returns a multiplexer writing to w.
func New(w io.Writer) *Multiplexer {
	if w == nil {
		w = io.Discard
	}
	return &Multiplexer{w: w}
}

// OnLine registers a hook invoked after each emitted line (metrics).
func (m *Multiplexer) OnLine(fn func(tag string)) {
	m.mu.Lock()
	m.onLine = fn
	m.mu.Unlock()
}

// Stream returns a line writer for one process stream. When mirror is not
// nil the raw bytes are copied to it unchanged.
func (m *Multiplexer) Stream(tag string, mirror io.Writer) *LineWriter {
	return &LineWriter{mux: m, tag: tag, mirror: mirror}
}

func (m *Multiplexer) emit(tag string, line []byte) {
	rec := make([]byte, 0, len(tag)+len(line)+4)
	rec = append(rec, '[')
	rec = append(rec, tag...)
	rec = append(rec, "] "...)
	rec = append(rec, line...)
	rec = append(rec, '\n')

	m.mu.Lock()
	_, _ = m.w.Write(rec)
	fn := m.onLine
	m.mu.Unlock()
	if fn != nil {
		fn(tag)
	}
}

// LineWriter buffers the current incomplete line of one stream.
type LineWriter struct {
	mux    *Multiplexer
	tag    string
	mirror io.Writer

	mu      sync.Mutex
	partial []byte
}

// Write splits p on '\n'. Every complete line is emitted prefixed with the
// buffered partial line; the trailing fragment becomes the new buffer.
func (lw *LineWriter) Write(p []byte) (int, error) {
	if lw.mirror != nil {
		_, _ = lw.mirror.Write(p)
	}
	lw.mu.Lock()
	defer lw.mu.Unlock()

	rest := p
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			break
		}
		line := rest[:i]
		if len(lw.partial) > 0 {
			line = append(lw.partial, line...)
			lw.partial = nil
		}
		lw.mux.emit(lw.tag, bytes.TrimSuffix(line, []byte{'\r'}))
		rest = rest[i+1:]
	}
	if len(rest) > 0 {
		lw.partial = append(lw.partial, rest...)
	}
	return len(p), nil
}

// Flush emits the buffered partial line, if any. Called once the process
// exited so a final unterminated line is not lost.
func (lw *LineWriter) Flush() {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if len(lw.partial) == 0 {
		return
	}
	lw.mux.emit(lw.tag, lw.partial)
	lw.partial = nil
}

// Pending returns a copy of the buffered partial line.
func (lw *LineWriter) Pending() string {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return string(lw.partial)
}
