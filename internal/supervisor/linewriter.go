package supervisor

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// TeeWriter fans the child's combined output out to the log file and an
// optional mirror (the attached terminal). The log sink gets each line
// prefixed with a UTC timestamp; the mirror gets the raw bytes. Writes are
// serialized so stdout and stderr interleave at line granularity, and the
// child's exit status stays readable from its process handle instead of a
// pipeline stage.
type TeeWriter struct {
	mu     sync.Mutex
	log    io.Writer
	mirror io.Writer
	buf    bytes.Buffer
	now    func() time.Time
}

func NewTee(log, mirror io.Writer) *TeeWriter {
	return &TeeWriter{
		log:    log,
		mirror: mirror,
		now:    time.Now,
	}
}

func (t *TeeWriter) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mirror != nil {
		t.mirror.Write(p)
	}

	t.buf.Write(p)
	for {
		line, err := t.buf.ReadString('\n')
		if err != nil {
			// Partial line, keep it buffered until the newline arrives
			t.buf.Reset()
			t.buf.WriteString(line)
			break
		}
		if err := t.writeStamped(line); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Flush writes any buffered partial line, terminating it. Called once the
// child has exited so trailing output is not lost.
func (t *TeeWriter) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.buf.Len() == 0 {
		return nil
	}
	line := t.buf.String() + "\n"
	t.buf.Reset()
	return t.writeStamped(line)
}

func (t *TeeWriter) writeStamped(line string) error {
	stamp := t.now().UTC().Format(time.DateTime)
	_, err := io.WriteString(t.log, stamp+" "+line)
	return err
}
