// Package persongroup keeps the named identities faces are matched against.
// The whole collection is one document and is rewritten on every mutation.
package persongroup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/camflow/internal/database"
	"github.com/kozaktomas/camflow/internal/embedding"
	"github.com/kozaktomas/camflow/internal/inference"
	"github.com/kozaktomas/camflow/internal/logger"
	"go.uber.org/zap"
)

// DocumentKey is the key the group collection is stored under.
const DocumentKey = "persons/groups"

var (
	// ErrEmptyName is returned when a reference is added without a name.
	ErrEmptyName = errors.New("person name is required")
	// ErrDimensionMismatch is returned when no new embedding has the length
	// of the embeddings already in the group.
	ErrDimensionMismatch = errors.New("embedding length does not match the group")
)

// Group is a named identity with one or more reference embeddings.
type Group struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	Embeddings []embedding.Embedding `json:"embeddings"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

func (g Group) clone() Group {
	out := g
	out.Embeddings = make([]embedding.Embedding, len(g.Embeddings))
	for i, e := range g.Embeddings {
		out.Embeddings[i] = append(embedding.Embedding(nil), e...)
	}
	return out
}

// Store holds person groups in memory and persists them as one document.
type Store struct {
	mu        sync.RWMutex
	groups    []Group
	revision  uint64
	db        database.Store
	detector  inference.Detector
	extractor embedding.Embedder
	now       func() time.Time
}

// Open loads the group document. A missing or unreadable document yields an empty store.
func Open(ctx context.Context, db database.Store, detector inference.Detector, extractor embedding.Embedder) *Store {
	s := &Store{
		db:        db,
		detector:  detector,
		extractor: extractor,
		now:       time.Now,
	}
	s.load(ctx)
	return s
}

func (s *Store) load(ctx context.Context) {
	log := logger.FromContext(ctx)

	data, err := s.db.Get(ctx, DocumentKey)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			log.Warn("failed to read person groups, starting empty", zap.Error(err))
		}
		return
	}

	var groups []Group
	if err := json.Unmarshal(data, &groups); err != nil {
		log.Warn("person group document is corrupt, starting empty", zap.Error(err))
		return
	}

	kept := groups[:0]
	for _, g := range groups {
		if g.ID == "" || len(g.Embeddings) == 0 {
			continue
		}
		kept = append(kept, g)
	}
	s.groups = kept
	log.Debug("loaded person groups", zap.Int("count", len(kept)))
}

// AddReference detects faces in img and appends the embedding of every face
// to the group called name, creating the group when needed. It returns false
// and leaves the store untouched when no face yields an embedding.
func (s *Store) AddReference(ctx context.Context, img image.Image, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, ErrEmptyName
	}
	log := logger.FromContext(ctx).With(zap.String("person", name))

	faces, err := s.detector.Detect(ctx, img)
	if err != nil {
		return false, fmt.Errorf("face detection failed: %w", err)
	}
	if len(faces) == 0 {
		log.Info("no faces detected in reference image")
		return false, nil
	}

	embeddings := make([]embedding.Embedding, 0, len(faces))
	for i, region := range faces {
		emb, err := s.extractor.Embed(ctx, img, region)
		if err != nil {
			log.Warn("skipping face", zap.Int("face", i), zap.Error(err))
			continue
		}
		embeddings = append(embeddings, emb)
	}
	if len(embeddings) == 0 {
		log.Info("no face in reference image could be embedded", zap.Int("faces", len(faces)))
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.groups
	next := make([]Group, len(previous), len(previous)+1)
	copy(next, previous)

	now := s.now()
	key := NormalizeName(name)
	idx := -1
	for i, g := range next {
		if NormalizeName(g.Name) == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		next = append(next, Group{ID: uuid.NewString(), Name: name, CreatedAt: now})
		idx = len(next) - 1
	}
	g := next[idx]
	embeddings = sameLength(embeddings, g.Embeddings)
	if len(embeddings) == 0 {
		return false, fmt.Errorf("%w: group %q holds %d-dimensional embeddings", ErrDimensionMismatch, g.Name, len(g.Embeddings[0]))
	}
	g.Embeddings = append(append([]embedding.Embedding(nil), g.Embeddings...), embeddings...)
	g.UpdatedAt = now
	next[idx] = g

	if err := s.persist(ctx, next); err != nil {
		return false, err
	}
	s.groups = next
	s.revision++

	log.Info("added reference embeddings",
		zap.String("group_id", g.ID),
		zap.Int("added", len(embeddings)),
		zap.Int("total", len(g.Embeddings)),
	)
	return true, nil
}

// sameLength keeps the embeddings of added whose length matches the
// embeddings in existing, or the first of added when existing is empty.
func sameLength(added, existing []embedding.Embedding) []embedding.Embedding {
	want := len(added[0])
	if len(existing) > 0 {
		want = len(existing[0])
	}
	kept := make([]embedding.Embedding, 0, len(added))
	for _, e := range added {
		if len(e) == want {
			kept = append(kept, e)
		}
	}
	return kept
}

// Groups returns a copy of every group in insertion order.
func (s *Store) Groups() []Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Group, len(s.groups))
	for i, g := range s.groups {
		out[i] = g.clone()
	}
	return out
}

// Group returns the group with the given id.
func (s *Store) Group(id string) (Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.groups {
		if g.ID == id {
			return g.clone(), true
		}
	}
	return Group{}, false
}

// DeleteGroup removes the group with the given id and reports whether it existed.
func (s *Store) DeleteGroup(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, g := range s.groups {
		if g.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}

	next := make([]Group, 0, len(s.groups)-1)
	next = append(next, s.groups[:idx]...)
	next = append(next, s.groups[idx+1:]...)
	if err := s.persist(ctx, next); err != nil {
		return false, err
	}
	s.groups = next
	s.revision++
	return true, nil
}

// Revision changes every time the group set changes.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

func (s *Store) persist(ctx context.Context, groups []Group) error {
	if groups == nil {
		groups = []Group{}
	}
	data, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("failed to encode person groups: %w", err)
	}
	if err := s.db.Set(ctx, DocumentKey, data); err != nil {
		return fmt.Errorf("failed to save person groups: %w", err)
	}
	return nil
}
