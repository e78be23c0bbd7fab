package engine

import (
	"sort"
	"sync"

	"github.com/fuomag9/inframirror/internal/models"
)

// Registry is a flat arena of scheduled monitor snapshots keyed by id. Parents
// are referenced by id only; lookups that follow them stop at the first
// monitor that is not in the registry.
type Registry struct {
	mu       sync.RWMutex
	monitors map[int]*models.Monitor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{monitors: make(map[int]*models.Monitor)}
}

// Put stores a copy of m, replacing any previous snapshot
func (r *Registry) Put(m *models.Monitor) *models.Monitor {
	snapshot := *m
	r.mu.Lock()
	r.monitors[m.ID] = &snapshot
	r.mu.Unlock()
	return &snapshot
}

// Remove drops a monitor
func (r *Registry) Remove(id int) {
	r.mu.Lock()
	delete(r.monitors, id)
	r.mu.Unlock()
}

// Get returns the current snapshot. Snapshots are never mutated in place.
func (r *Registry) Get(id int) (*models.Monitor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.monitors[id]
	return m, ok
}

// IDs returns the registered ids in ascending order
func (r *Registry) IDs() []int {
	r.mu.RLock()
	ids := make([]int, 0, len(r.monitors))
	for id := range r.monitors {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Ints(ids)
	return ids
}

// Len returns the number of registered monitors
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.monitors)
}

// Ancestors returns the parent chain of id, nearest first
func (r *Registry) Ancestors(id int) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var chain []int
	seen := map[int]bool{id: true}
	m, ok := r.monitors[id]
	for ok && m.ParentID != nil {
		pid := *m.ParentID
		if seen[pid] {
			break
		}
		seen[pid] = true
		chain = append(chain, pid)
		m, ok = r.monitors[pid]
	}
	return chain
}
