package facematch

import (
	"context"
	"fmt"
	"sync"

	"github.com/kozaktomas/camflow/internal/constants"
	"github.com/kozaktomas/camflow/internal/persongroup"
)

// GroupSource provides the current person groups and a revision that changes with them.
type GroupSource interface {
	Groups() []persongroup.Group
	Revision() uint64
}

// snapshotLoader is implemented by indexes that can restore a persisted build.
type snapshotLoader interface {
	Load(groups []persongroup.Group) error
}

// Match is the outcome of BestMatch. Score is the best similarity seen even
// when no group passed the threshold.
type Match struct {
	GroupID string
	Name    string
	Score   float64
}

// Matcher finds the person group closest to a probe embedding.
type Matcher struct {
	source    GroupSource
	index     Index
	threshold float64

	mu       sync.Mutex
	built    bool
	revision uint64
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithIndex replaces the default exact index.
func WithIndex(idx Index) MatcherOption {
	return func(m *Matcher) { m.index = idx }
}

// WithThreshold sets the minimum similarity for a match.
func WithThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) { m.threshold = threshold }
}

// NewMatcher creates a matcher over source.
func NewMatcher(source GroupSource, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		source:    source,
		index:     NewLinearIndex(),
		threshold: constants.MatchThreshold,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Threshold returns the minimum similarity for a match.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// BestMatch returns the group owning the reference embedding most similar to
// emb. ok is false when no group reaches the threshold.
func (m *Matcher) BestMatch(ctx context.Context, emb []float32) (Match, bool, error) {
	idx, err := m.current(ctx)
	if err != nil {
		return Match{}, false, err
	}

	c, found, err := idx.Nearest(ctx, emb)
	if err != nil {
		return Match{}, false, fmt.Errorf("nearest neighbour search failed: %w", err)
	}
	if !found {
		return Match{}, false, nil
	}
	if c.Score < m.threshold {
		return Match{Score: c.Score}, false, nil
	}
	return Match(c), true, nil
}

// current rebuilds the index when the group set changed since the last build.
func (m *Matcher) current(ctx context.Context) (Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rev := m.source.Revision()
	if m.built && rev == m.revision {
		return m.index, nil
	}

	groups := m.source.Groups()
	if !m.built {
		if l, ok := m.index.(snapshotLoader); ok {
			if err := l.Load(groups); err == nil {
				m.built = true
				m.revision = rev
				return m.index, nil
			}
		}
	}
	if err := m.index.Build(ctx, groups); err != nil {
		return nil, fmt.Errorf("failed to build face index: %w", err)
	}
	m.built = true
	m.revision = rev
	return m.index, nil
}
