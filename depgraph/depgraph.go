// Package depgraph holds the process-wide dependency registry shared by all
// environment layers in a checking session.
//
// A Dep is a small integer handle into an append-only arena. Two tokens are
// equal iff they are the same integer, so equality and set membership are
// trivially correct. Tokens are interned by qualified name: interning the same
// name twice returns the same token. Registration never invalidates existing
// tokens and nothing is ever removed within a session.
package depgraph

import (
	"sort"
	"sync"
)

// Dep is an opaque dependency token. The zero value is a valid token only if
// it was actually interned; use Registry.Name to resolve.
type Dep uint32

// Registry is the append-only arena of dependency tokens plus the recorded
// read edges ("reader R reads through dependency D"). Safe for concurrent use;
// registration and edge recording may race with lookups.
type Registry struct {
	mu      sync.RWMutex
	names   []string
	index   map[string]Dep
	readers map[Dep]map[Dep]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		index:   make(map[string]Dep),
		readers: make(map[Dep]map[Dep]struct{}),
	}
}

// Intern returns the token for name, allocating one on first use.
func (r *Registry) Intern(name string) Dep {
	r.mu.RLock()
	d, ok := r.index[name]
	r.mu.RUnlock()
	if ok {
		return d
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.index[name]; ok {
		return d
	}
	d = Dep(len(r.names))
	r.names = append(r.names, name)
	r.index[name] = d
	return d
}

// Name resolves a token back to its qualified name.
func (r *Registry) Name(d Dep) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(d) >= len(r.names) {
		return "", false
	}
	return r.names[d], true
}

// Len reports how many tokens have been allocated.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// RecordRead records that reader read through src. Duplicate edges collapse.
func (r *Registry) RecordRead(src, reader Dep) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.readers[src]
	if !ok {
		m = make(map[Dep]struct{})
		r.readers[src] = m
	}
	m[reader] = struct{}{}
}

// Readers returns every token recorded as reading through src, in ascending
// token order. The result is a copy.
func (r *Registry) Readers(src Dep) []Dep {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.readers[src]
	if len(m) == 0 {
		return nil
	}
	out := make([]Dep, 0, len(m))
	for d := range m {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
