package replay

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"sharedworld.ai/internal/sim/command"
)

var (
	ErrStepNotIncreasing = errors.New("replay: step not increasing")
	ErrStepGap           = errors.New("replay: step gap")
)

type Entry struct {
	Step     uint64            `json:"step"`
	Commands []command.Command `json:"commands"`
}

// Buffer is a tick-indexed log of broadcast commands used for catch-up reads.
// Committed steps are strictly increasing; only the most recent window steps are retained.
type Buffer struct {
	mu      sync.Mutex
	window  int
	sparse  bool
	entries []Entry
	pending []command.Command
}

// NewBuffer keeps at most window committed steps; window <= 0 keeps everything.
// Steps must be committed without gaps.
func NewBuffer(window int) *Buffer {
	return &Buffer{window: window}
}

// NewSparseBuffer is like NewBuffer but accepts gaps between committed steps.
// Agents use it for their own history since a skipped advance is never replayed.
func NewSparseBuffer(window int) *Buffer {
	return &Buffer{window: window, sparse: true}
}

func (b *Buffer) AppendPending(cmds ...command.Command) {
	if len(cmds) == 0 {
		return
	}
	b.mu.Lock()
	b.pending = append(b.pending, cmds...)
	b.mu.Unlock()
}

// Commit finalizes the pending entry as step. An empty pending entry is still
// committed so that steps that occurred never leave gaps.
func (b *Buffer) Commit(step uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n := len(b.entries); n > 0 {
		last := b.entries[n-1].Step
		if step <= last {
			return fmt.Errorf("%w: commit %d after %d", ErrStepNotIncreasing, step, last)
		}
		if !b.sparse && step != last+1 {
			return fmt.Errorf("%w: commit %d after %d", ErrStepGap, step, last)
		}
	}
	b.entries = append(b.entries, Entry{Step: step, Commands: b.pending})
	b.pending = nil

	if b.window > 0 && len(b.entries) > b.window {
		drop := len(b.entries) - b.window
		kept := make([]Entry, b.window)
		copy(kept, b.entries[drop:])
		b.entries = kept
	}
	return nil
}

// Since returns every command committed after step last, in step order, together
// with the newest committed step. ok is false when the caller is already current
// or when last is older than the retained window; the caller should then fall back
// to a full snapshot.
func (b *Buffer) Since(last uint64) (step uint64, cmds []command.Command, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.entries)
	if n == 0 {
		return 0, nil, false
	}
	newest := b.entries[n-1].Step
	if last >= newest {
		return newest, nil, false
	}
	// Entries before the oldest were pruned; last+1 must still be retained.
	if b.window > 0 && len(b.entries) == b.window && last+1 < b.entries[0].Step {
		return newest, nil, false
	}
	start := sort.Search(n, func(i int) bool { return b.entries[i].Step > last })
	for _, e := range b.entries[start:] {
		cmds = append(cmds, e.Commands...)
	}
	return newest, cmds, true
}

func (b *Buffer) Entry(step uint64) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.entries)
	i := sort.Search(n, func(i int) bool { return b.entries[i].Step >= step })
	if i == n || b.entries[i].Step != step {
		return Entry{}, false
	}
	return b.entries[i], true
}

func (b *Buffer) Latest() (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return 0, false
	}
	return b.entries[len(b.entries)-1].Step, true
}

// Steps lists retained step numbers in order.
func (b *Buffer) Steps() []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]uint64, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.Step
	}
	return out
}

func (b *Buffer) PendingLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
