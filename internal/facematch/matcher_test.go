package facematch

import (
	"context"
	"errors"
	"image"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kozaktomas/camflow/internal/embedding"
	"github.com/kozaktomas/camflow/internal/persongroup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	groups   []persongroup.Group
	revision uint64
}

func (s *staticSource) Groups() []persongroup.Group { return s.groups }
func (s *staticSource) Revision() uint64            { return s.revision }

func group(id, name string, embs ...embedding.Embedding) persongroup.Group {
	return persongroup.Group{ID: id, Name: name, Embeddings: embs}
}

// at returns a unit 2D vector whose cosine similarity to (1, 0) is score.
func at(score float64) embedding.Embedding {
	return embedding.Embedding{float32(score), float32(math.Sqrt(1 - score*score))}
}

func TestBestMatch_BobAtThreshold(t *testing.T) {
	src := &staticSource{groups: []persongroup.Group{
		group("b", "Bob", embedding.Embedding{1, 0}),
	}}
	m := NewMatcher(src)

	match, ok, err := m.BestMatch(context.Background(), at(0.82))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Bob", match.Name)
	assert.InDelta(t, 0.82, match.Score, 1e-4)
}

func TestBestMatch_BelowThresholdIsAbsent(t *testing.T) {
	src := &staticSource{groups: []persongroup.Group{
		group("b", "Bob", embedding.Embedding{1, 0}),
	}}
	m := NewMatcher(src)

	match, ok, err := m.BestMatch(context.Background(), at(0.69))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, match.Name)
	assert.InDelta(t, 0.69, match.Score, 1e-4)
}

func TestBestMatch_PicksHighestAcrossGroupsAndReferences(t *testing.T) {
	src := &staticSource{groups: []persongroup.Group{
		group("a", "Alice", embedding.Embedding{0, 1}, at(0.75)),
		group("b", "Bob", at(0.71), at(0.93)),
		group("c", "Carol", embedding.Embedding{-1, 0}),
	}}

	for name, idx := range map[string]Index{"linear": NewLinearIndex(), "hnsw": NewHNSWIndex("")} {
		t.Run(name, func(t *testing.T) {
			m := NewMatcher(src, WithIndex(idx))
			match, ok, err := m.BestMatch(context.Background(), embedding.Embedding{1, 0})
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "Bob", match.Name)
			assert.Equal(t, "b", match.GroupID)
			assert.InDelta(t, 0.93, match.Score, 1e-4)
		})
	}
}

func TestBestMatch_TieGoesToFirstGroup(t *testing.T) {
	src := &staticSource{groups: []persongroup.Group{
		group("1", "First", at(0.9)),
		group("2", "Second", at(0.9)),
	}}
	m := NewMatcher(src)

	match, ok, err := m.BestMatch(context.Background(), embedding.Embedding{1, 0})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "First", match.Name)
}

func TestBestMatch_MismatchedLengthNeverMatches(t *testing.T) {
	src := &staticSource{groups: []persongroup.Group{
		group("b", "Bob", embedding.Embedding{1, 0, 0}),
	}}

	for name, idx := range map[string]Index{"linear": NewLinearIndex(), "hnsw": NewHNSWIndex("")} {
		t.Run(name, func(t *testing.T) {
			m := NewMatcher(src, WithIndex(idx))
			_, ok, err := m.BestMatch(context.Background(), embedding.Embedding{1, 0})
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestBestMatch_NoGroups(t *testing.T) {
	m := NewMatcher(&staticSource{})
	_, ok, err := m.BestMatch(context.Background(), embedding.Embedding{1, 0})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBestMatch_RebuildsOnRevisionChange(t *testing.T) {
	src := &staticSource{}
	m := NewMatcher(src)

	_, ok, err := m.BestMatch(context.Background(), embedding.Embedding{1, 0})
	require.NoError(t, err)
	assert.False(t, ok)

	src.groups = []persongroup.Group{group("b", "Bob", embedding.Embedding{1, 0})}
	src.revision++

	match, ok, err := m.BestMatch(context.Background(), embedding.Embedding{1, 0})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Bob", match.Name)
}

func TestBestMatch_NeverBelowThreshold(t *testing.T) {
	src := &staticSource{groups: []persongroup.Group{
		group("a", "Alice", at(0.3), at(0.5)),
		group("b", "Bob", at(0.6), at(0.95)),
	}}
	m := NewMatcher(src)

	for score := -1.0; score <= 1.0; score += 0.05 {
		probe := embedding.Embedding{float32(score), float32(math.Sqrt(max(0, 1-score*score)))}
		match, ok, err := m.BestMatch(context.Background(), probe)
		require.NoError(t, err)
		if ok {
			assert.GreaterOrEqual(t, match.Score, m.Threshold())
		}
	}
}

// changingSource swaps between two group sets while matches run.
type changingSource struct {
	mu       sync.Mutex
	sets     [2][]persongroup.Group
	revision uint64
}

func (s *changingSource) Groups() []persongroup.Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets[s.revision%2]
}

func (s *changingSource) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

func (s *changingSource) bump() {
	s.mu.Lock()
	s.revision++
	s.mu.Unlock()
}

func TestBestMatch_ConcurrentWithGroupChanges(t *testing.T) {
	for name, newIndex := range map[string]func() Index{
		"linear": func() Index { return NewLinearIndex() },
		"hnsw":   func() Index { return NewHNSWIndex("") },
	} {
		t.Run(name, func(t *testing.T) {
			src := &changingSource{sets: [2][]persongroup.Group{
				{group("b", "Bob", embedding.Embedding{1, 0}, at(0.9))},
				{group("a", "Alice", embedding.Embedding{0, 1}), group("b", "Bob", embedding.Embedding{1, 0})},
			}}
			m := NewMatcher(src, WithIndex(newIndex()))
			ctx := context.Background()

			var wg sync.WaitGroup
			errs := make(chan error, 8)
			for range 8 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for range 200 {
						match, ok, err := m.BestMatch(ctx, embedding.Embedding{1, 0})
						if err != nil {
							errs <- err
							return
						}
						if !ok || match.Name != "Bob" {
							errs <- errors.New("expected Bob, got " + match.Name)
							return
						}
					}
				}()
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 200 {
					src.bump()
				}
			}()
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Error(err)
			}
		})
	}
}

func TestLinearIndex_BuildDuringSearch(t *testing.T) {
	ctx := context.Background()
	idx := NewLinearIndex()
	small := []persongroup.Group{group("b", "Bob", embedding.Embedding{1, 0})}
	large := []persongroup.Group{
		group("a", "Alice", embedding.Embedding{0, 1}, embedding.Embedding{0, -1}),
		group("b", "Bob", embedding.Embedding{1, 0}, at(0.5), at(0.2)),
	}
	require.NoError(t, idx.Build(ctx, large))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 500 {
			sets := [2][]persongroup.Group{small, large}
			if err := idx.Build(ctx, sets[i%2]); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for range 500 {
			c, ok, err := idx.Nearest(ctx, []float32{1, 0})
			if err != nil || !ok || c.Name != "Bob" {
				t.Errorf("unexpected nearest %+v ok=%v err=%v", c, ok, err)
				return
			}
		}
	}()
	wg.Wait()
}

type failingIndex struct{}

func (failingIndex) Build(context.Context, []persongroup.Group) error { return errors.New("build failed") }
func (failingIndex) Nearest(context.Context, []float32) (Candidate, bool, error) {
	return Candidate{}, false, nil
}

func TestBestMatch_IndexBuildError(t *testing.T) {
	m := NewMatcher(&staticSource{}, WithIndex(failingIndex{}))
	_, _, err := m.BestMatch(context.Background(), embedding.Embedding{1})
	require.Error(t, err)
}

func TestHNSWIndex_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "faces.hnsw")
	groups := []persongroup.Group{
		group("a", "Alice", embedding.Embedding{0, 1, 0}, embedding.Embedding{0, 0.9, 0.1}),
		group("b", "Bob", embedding.Embedding{1, 0, 0}),
	}

	built := NewHNSWIndex(path)
	require.NoError(t, built.Build(ctx, groups))
	assert.Equal(t, 3, built.Len())
	assert.FileExists(t, path)
	assert.FileExists(t, path+".meta")

	loaded := NewHNSWIndex(path)
	require.NoError(t, loaded.Load(groups))
	assert.Equal(t, 3, loaded.Len())

	c, ok, err := loaded.Nearest(ctx, []float32{0.95, 0.05, 0})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Bob", c.Name)

	changed := append([]persongroup.Group(nil), groups...)
	changed[1] = group("b", "Bob", embedding.Embedding{1, 0, 0}, embedding.Embedding{0.9, 0.1, 0})
	require.ErrorIs(t, NewHNSWIndex(path).Load(changed), ErrStaleSnapshot)
}

type fakeDetector struct {
	faces []image.Rectangle
	err   error
}

func (f *fakeDetector) Detect(context.Context, image.Image) ([]image.Rectangle, error) {
	return f.faces, f.err
}

type fakeEmbedder struct {
	byRegion map[image.Rectangle]embedding.Embedding
}

func (f *fakeEmbedder) Embed(_ context.Context, _ image.Image, region image.Rectangle) (embedding.Embedding, error) {
	e, ok := f.byRegion[region]
	if !ok {
		return nil, embedding.ErrExtraction
	}
	return e, nil
}

func TestRecognize_BobScenario(t *testing.T) {
	face := image.Rect(10, 10, 60, 60)
	r := &Recognizer{
		Detector:  &fakeDetector{faces: []image.Rectangle{face}},
		Extractor: &fakeEmbedder{byRegion: map[image.Rectangle]embedding.Embedding{face: at(0.82)}},
		Matcher: NewMatcher(&staticSource{groups: []persongroup.Group{
			group("b", "Bob", embedding.Embedding{1, 0}),
		}}),
	}

	results, err := r.Recognize(context.Background(), image.NewRGBA(image.Rect(0, 0, 100, 100)))
	require.NoError(t, err)
	require.Len(t, results, 1)

	best, ok := Best(results)
	require.True(t, ok)
	assert.Equal(t, "Bob", best.Name)
	assert.InDelta(t, 0.82, best.Confidence, 1e-4)
	assert.Equal(t, face, best.Region)
}

func TestRecognize_MixedFaces(t *testing.T) {
	known := image.Rect(0, 0, 10, 10)
	stranger := image.Rect(20, 20, 30, 30)
	broken := image.Rect(40, 40, 50, 50)
	r := &Recognizer{
		Detector: &fakeDetector{faces: []image.Rectangle{known, stranger, broken}},
		Extractor: &fakeEmbedder{byRegion: map[image.Rectangle]embedding.Embedding{
			known:    at(0.9),
			stranger: embedding.Embedding{0, 1},
		}},
		Matcher: NewMatcher(&staticSource{groups: []persongroup.Group{
			group("b", "Bob", embedding.Embedding{1, 0}),
		}}),
	}

	results, err := r.Recognize(context.Background(), image.NewRGBA(image.Rect(0, 0, 100, 100)))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Matched)
	assert.False(t, results[1].Matched)
	assert.Empty(t, results[1].Name)
}

func TestRecognize_Errors(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	m := NewMatcher(&staticSource{})

	t.Run("detection fails", func(t *testing.T) {
		r := &Recognizer{Detector: &fakeDetector{err: errors.New("offline")}, Extractor: &fakeEmbedder{}, Matcher: m}
		_, err := r.Recognize(context.Background(), img)
		require.Error(t, err)
	})

	t.Run("every face fails", func(t *testing.T) {
		r := &Recognizer{Detector: &fakeDetector{faces: []image.Rectangle{image.Rect(0, 0, 5, 5)}}, Extractor: &fakeEmbedder{}, Matcher: m}
		_, err := r.Recognize(context.Background(), img)
		require.ErrorIs(t, err, embedding.ErrExtraction)
	})

	t.Run("no faces", func(t *testing.T) {
		r := &Recognizer{Detector: &fakeDetector{}, Extractor: &fakeEmbedder{}, Matcher: m}
		results, err := r.Recognize(context.Background(), img)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestBest(t *testing.T) {
	_, ok := Best(nil)
	assert.False(t, ok)

	_, ok = Best([]RecognitionResult{{Confidence: 0.99}})
	assert.False(t, ok, "unmatched faces are never best")

	best, ok := Best([]RecognitionResult{
		{Name: "A", Matched: true, Confidence: 0.75},
		{Name: "B", Matched: true, Confidence: 0.88},
		{Confidence: 0.95},
	})
	require.True(t, ok)
	assert.Equal(t, "B", best.Name)
}

type countingIndex struct {
	*HNSWIndex
	builds int
}

func (c *countingIndex) Build(ctx context.Context, groups []persongroup.Group) error {
	c.builds++
	return c.HNSWIndex.Build(ctx, groups)
}

func TestMatcher_RestoresSnapshotOnFirstUse(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "faces.hnsw")
	src := &staticSource{groups: []persongroup.Group{group("b", "Bob", embedding.Embedding{1, 0, 0})}}
	require.NoError(t, NewHNSWIndex(path).Build(ctx, src.groups))

	idx := &countingIndex{HNSWIndex: NewHNSWIndex(path)}
	m := NewMatcher(src, WithIndex(idx))
	match, ok, err := m.BestMatch(ctx, []float32{1, 0, 0})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Bob", match.Name)
	assert.Equal(t, 0, idx.builds)

	src.groups = append(src.groups, group("a", "Alice", embedding.Embedding{0, 1, 0}))
	src.revision++
	_, _, err = m.BestMatch(ctx, []float32{0, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, 1, idx.builds)
}
