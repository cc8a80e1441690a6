// Package handoff passes task specifications from a requester to the
// background runner by id, without serializing them.
package handoff

import (
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/kozaktomas/camflow/internal/ai"
	"github.com/kozaktomas/camflow/internal/delivery"
	"github.com/kozaktomas/camflow/internal/pipeline"
)

// TaskSpec is everything a background run needs.
type TaskSpec struct {
	Model           ai.Generator // optional, resolved by name or last used setting when nil
	ModelName       string
	Images          []string
	Prompt          string
	Mode            pipeline.Mode
	Destination     delivery.Destination
	AttachOriginals bool
}

func (s TaskSpec) clone() TaskSpec {
	s.Images = slices.Clone(s.Images)
	return s
}

// Registry maps task ids to specs. Entries live until claimed.
type Registry struct {
	tasks map[string]TaskSpec
	mu    sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]TaskSpec),
	}
}

// Register stores spec under a fresh id.
func (r *Registry) Register(spec TaskSpec) string {
	id := uuid.New().String()

	r.mu.Lock()
	r.tasks[id] = spec.clone()
	r.mu.Unlock()

	return id
}

// Peek returns the spec without removing it.
func (r *Registry) Peek(id string) (TaskSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.tasks[id]
	if !ok {
		return TaskSpec{}, false
	}
	return spec.clone(), true
}

// Claim removes and returns the spec. Only one caller ever gets it.
func (r *Registry) Claim(id string) (TaskSpec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	spec, ok := r.tasks[id]
	if ok {
		delete(r.tasks, id)
	}
	return spec, ok
}

// Has reports whether id is still registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tasks[id]
	return ok
}

// Len returns the number of unclaimed tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
