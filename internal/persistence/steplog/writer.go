package steplog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"sharedworld.ai/internal/sim/coordinator"
)

const (
	Prefix     = "steps"
	hourLayout = "2006-01-02-15"
)

var ErrStepOrder = errors.New("steplog: step not after the last one written")

func Dir(dataDir string) string { return filepath.Join(dataDir, "steps") }

// SegmentPath names the segment opened in hour whose first record is step
// first. Names sort in write order.
func SegmentPath(dir, hour string, first uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s-%012d.jsonl.zst", Prefix, hour, first))
}

// Logger appends one JSON line per committed step to zstd segments under
// Dir(dataDir). A segment is cut when the UTC hour changes or, with
// SegmentSteps > 0, once it holds that many steps.
type Logger struct {
	SegmentSteps int

	dir string
	now func() time.Time

	mu      sync.Mutex
	seg     *segment
	last    uint64
	written bool
}

type segment struct {
	hour  string
	first uint64
	steps int

	f   *os.File
	zw  *zstd.Encoder
	bw  *bufio.Writer
	enc *json.Encoder
}

func NewLogger(dataDir string) *Logger {
	return &Logger{dir: Dir(dataDir), now: time.Now}
}

// WriteStep appends rep and flushes it to the compressor. Steps must be
// strictly increasing.
func (l *Logger) WriteStep(rep coordinator.StepReport) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.written && rep.Step <= l.last {
		return fmt.Errorf("%w: %d after %d", ErrStepOrder, rep.Step, l.last)
	}
	hour := l.now().UTC().Format(hourLayout)
	if l.seg == nil || l.seg.hour != hour || (l.SegmentSteps > 0 && l.seg.steps >= l.SegmentSteps) {
		if err := l.cutLocked(); err != nil {
			return err
		}
		seg, err := openSegment(l.dir, hour, rep.Step)
		if err != nil {
			return err
		}
		l.seg = seg
	}

	if err := l.seg.enc.Encode(rep); err != nil {
		return err
	}
	if err := l.seg.bw.Flush(); err != nil {
		return err
	}
	l.seg.steps++
	l.last, l.written = rep.Step, true
	return nil
}

// Last returns the newest step written by this logger.
func (l *Logger) Last() (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last, l.written
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cutLocked()
}

func (l *Logger) cutLocked() error {
	if l.seg == nil {
		return nil
	}
	err := l.seg.close()
	l.seg = nil
	return err
}

func openSegment(dir, hour string, first uint64) (*segment, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	// Append: a restart within the hour may reuse the name; the reader
	// handles several zstd frames per file.
	f, err := os.OpenFile(SegmentPath(dir, hour, first), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	bw := bufio.NewWriterSize(zw, 128*1024)
	return &segment{hour: hour, first: first, f: f, zw: zw, bw: bw, enc: json.NewEncoder(bw)}, nil
}

func (s *segment) close() error {
	err := s.bw.Flush()
	if zerr := s.zw.Close(); err == nil {
		err = zerr
	}
	if ferr := s.f.Close(); err == nil {
		err = ferr
	}
	return err
}
