// Package discovery maps logical agent and coordinator names to handles.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrNotFound = errors.New("discovery: name not found")
	ErrNameUsed = errors.New("discovery: name already registered")
)

// Directory is a concurrency-safe name → handle table.
type Directory[H any] struct {
	mu      sync.RWMutex
	entries map[string]H
}

func NewDirectory[H any]() *Directory[H] {
	return &Directory[H]{entries: map[string]H{}}
}

// Register adds name. It fails with ErrNameUsed when name is taken.
func (d *Directory[H]) Register(name string, h H) error {
	if name == "" {
		return fmt.Errorf("discovery: empty name")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[name]; ok {
		return ErrNameUsed
	}
	d.entries[name] = h
	return nil
}

// Replace registers name, overwriting any previous handle.
func (d *Directory[H]) Replace(name string, h H) {
	d.mu.Lock()
	d.entries[name] = h
	d.mu.Unlock()
}

func (d *Directory[H]) Unregister(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[name]; !ok {
		return false
	}
	delete(d.entries, name)
	return true
}

func (d *Directory[H]) Resolve(ctx context.Context, name string) (H, error) {
	var zero H
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.entries[name]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return h, nil
}

func (d *Directory[H]) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.entries))
	for n := range d.entries {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
