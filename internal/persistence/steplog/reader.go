package steplog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"sharedworld.ai/internal/sim/coordinator"
)

var ErrStepGap = errors.New("steplog: steps not contiguous")

// Files lists the step log files in dir, oldest first.
func Files(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, Prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadFile decodes every step in path, in file order. Files that were
// reopened after a restart hold several zstd frames; all are read.
func ReadFile(path string, fn func(coordinator.StepReport) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rep coordinator.StepReport
		if err := json.Unmarshal(sc.Bytes(), &rep); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		if err := fn(rep); err != nil {
			return err
		}
	}
	return sc.Err()
}

// ReadDir reads every file under dir in order.
func ReadDir(dir string, fn func(coordinator.StepReport) error) error {
	paths, err := Files(dir)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := ReadFile(p, fn); err != nil {
			return err
		}
	}
	return nil
}

// Continuity checks that steps are fed in strictly increasing, gap-free order.
type Continuity struct {
	started bool
	last    uint64
	Count   int
}

func (c *Continuity) Check(step uint64) error {
	if c.started && step != c.last+1 {
		return fmt.Errorf("%w: step %d after %d", ErrStepGap, step, c.last)
	}
	c.started = true
	c.last = step
	c.Count++
	return nil
}

// Last returns the most recent step checked.
func (c *Continuity) Last() (uint64, bool) { return c.last, c.started }
