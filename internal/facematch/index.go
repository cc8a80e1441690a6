package facematch

import (
	"context"
	"sync"

	"github.com/kozaktomas/camflow/internal/persongroup"
)

// Candidate is the group holding the reference embedding closest to a probe.
type Candidate struct {
	GroupID string
	Name    string
	Score   float64
}

// Index finds the nearest reference embedding across all groups. Build is
// called with the complete group set whenever it changes.
type Index interface {
	Build(ctx context.Context, groups []persongroup.Group) error
	Nearest(ctx context.Context, probe []float32) (Candidate, bool, error)
}

type reference struct {
	group int
	vec   []float32
}

// LinearIndex compares the probe with every reference embedding.
// On equal scores the group listed first wins. Searches may run while
// a rebuild is in progress.
type LinearIndex struct {
	mu     sync.RWMutex
	groups []persongroup.Group
	refs   []reference
}

var _ Index = (*LinearIndex)(nil)

// NewLinearIndex creates an empty exact index.
func NewLinearIndex() *LinearIndex {
	return &LinearIndex{}
}

func (l *LinearIndex) Build(_ context.Context, groups []persongroup.Group) error {
	var refs []reference
	for gi, g := range groups {
		for _, e := range g.Embeddings {
			refs = append(refs, reference{group: gi, vec: e})
		}
	}

	l.mu.Lock()
	l.groups = groups
	l.refs = refs
	l.mu.Unlock()
	return nil
}

func (l *LinearIndex) Nearest(_ context.Context, probe []float32) (Candidate, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	best := -1
	bestScore := 0.0
	for i, r := range l.refs {
		score := Similarity(probe, r.vec)
		if best < 0 || score > bestScore {
			best = i
			bestScore = score
		}
	}
	if best < 0 {
		return Candidate{}, false, nil
	}
	g := l.groups[l.refs[best].group]
	return Candidate{GroupID: g.ID, Name: g.Name, Score: bestScore}, true, nil
}
