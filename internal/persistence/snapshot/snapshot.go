package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"sharedworld.ai/internal/sim/command"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	Step    uint64 `json:"step"`
}

// SnapshotV1 is the shared world as of the end of step Header.Step-1, so the
// step log entry Header.Step is the first one to replay on top of it.
type SnapshotV1 struct {
	Header Header `json:"header"`

	TickRateHz    int  `json:"tick_rate_hz"`
	Grouped       bool `json:"grouped"`
	CallTimeoutMS int  `json:"call_timeout_ms"`

	Agents []string           `json:"agents"`
	State  command.WorldState `json:"state"`
}

// Path names the snapshot for step under dataDir/snapshots.
func Path(dataDir string, step uint64) string {
	return filepath.Join(dataDir, "snapshots", fmt.Sprintf("%d.snap.zst", step))
}

// Latest returns the newest snapshot path under dataDir, or "" when none exist.
func Latest(dataDir string) (string, error) {
	paths, err := filepath.Glob(filepath.Join(dataDir, "snapshots", "*.snap.zst"))
	if err != nil {
		return "", err
	}
	step := func(p string) uint64 {
		n, _ := strconv.ParseUint(strings.TrimSuffix(filepath.Base(p), ".snap.zst"), 10, 64)
		return n
	}
	sort.Slice(paths, func(i, j int) bool { return step(paths[i]) < step(paths[j]) })
	if len(paths) == 0 {
		return "", nil
	}
	return paths[len(paths)-1], nil
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line is for tools that only need the step; gob carries it too.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}
