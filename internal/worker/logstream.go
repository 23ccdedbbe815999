package worker

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// logStream splits everything written to it into lines and hands every non-empty line to emit.
type logStream struct {
	mu   sync.Mutex
	buf  []byte
	emit func(line string)
}

var _ io.Writer = (*logStream)(nil)

func newLogStream(emit func(line string)) *logStream {
	return &logStream{
		emit: emit,
	}
}

func (s *logStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, p...)

	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}

		s.emitLine(string(s.buf[:i]))
		s.buf = s.buf[i+1:]
	}

	return len(p), nil
}

// Flush emits a trailing line that was not terminated by a newline
func (s *logStream) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) > 0 {
		s.emitLine(string(s.buf))
		s.buf = nil
	}
}

func (s *logStream) emitLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	s.emit(line)
}
