package coordinator

import "sync"

type member struct {
	name   string
	handle AgentHandle
}

// registry holds admitted agents in join order. It is only mutated from the
// step goroutine, at step boundaries.
type registry struct {
	mu      sync.RWMutex
	order   []string
	handles map[string]AgentHandle
}

func newRegistry() *registry {
	return &registry{handles: map[string]AgentHandle{}}
}

func (r *registry) add(name string, h AgentHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[name]; ok {
		return false
	}
	r.handles[name] = h
	r.order = append(r.order, name)
	return true
}

func (r *registry) remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[name]; !ok {
		return false
	}
	delete(r.handles, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *registry) get(name string) (AgentHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[name]
	return h, ok
}

func (r *registry) members() []member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]member, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, member{name: n, handle: r.handles[n]})
	}
	return out
}

func (r *registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// nameQueue is a FIFO of agent names that collapses duplicates while pending.
type nameQueue struct {
	mu    sync.Mutex
	items []string
	set   map[string]bool
}

func newNameQueue() *nameQueue {
	return &nameQueue{set: map[string]bool{}}
}

func (q *nameQueue) push(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.set[name] {
		return false
	}
	q.set[name] = true
	q.items = append(q.items, name)
	return true
}

func (q *nameQueue) drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	q.set = map[string]bool{}
	return out
}

func (q *nameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// rotate returns members starting at index start, wrapping around.
func rotate(ms []member, start int) []member {
	if len(ms) == 0 {
		return nil
	}
	start %= len(ms)
	out := make([]member, 0, len(ms))
	out = append(out, ms[start:]...)
	out = append(out, ms[:start]...)
	return out
}
