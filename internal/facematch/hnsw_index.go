package facematch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/google/renameio"
	"github.com/kozaktomas/camflow/internal/constants"
	"github.com/kozaktomas/camflow/internal/persongroup"
)

// ErrStaleSnapshot is returned by Load when the snapshot was built from a different group set.
var ErrStaleSnapshot = errors.New("index snapshot does not match person groups")

// hnswSearchWidth is how many graph neighbours are rescored exactly per probe.
const hnswSearchWidth = 8

const hnswMetadataVersion = 1

// HNSWIndexMetadata describes the group set a snapshot was built from.
type HNSWIndexMetadata struct {
	Version   int       `json:"version"`
	Dim       int       `json:"dim"`
	GroupIDs  []string  `json:"group_ids"`
	Counts    []int     `json:"counts"`
	Nodes     []int     `json:"nodes"` // node key -> group index
	BuildTime time.Time `json:"build_time"`
}

// HNSWIndex is an approximate nearest-neighbour index over reference embeddings.
// Embeddings whose length differs from the indexed dimension are scanned linearly.
type HNSWIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[int64]
	groups []persongroup.Group
	meta   HNSWIndexMetadata
	others []reference
	path   string
}

var _ Index = (*HNSWIndex)(nil)

// NewHNSWIndex creates an empty index. When path is set, Build writes a snapshot there.
func NewHNSWIndex(path string) *HNSWIndex {
	return &HNSWIndex{path: path}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = constants.HNSWMaxNeighbors
	g.Ml = 1.0 / float64(constants.HNSWMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.CosineDistance
	return g
}

func metadataFor(groups []persongroup.Group) HNSWIndexMetadata {
	meta := HNSWIndexMetadata{
		Version:  hnswMetadataVersion,
		GroupIDs: make([]string, len(groups)),
		Counts:   make([]int, len(groups)),
	}
	for gi, g := range groups {
		meta.GroupIDs[gi] = g.ID
		meta.Counts[gi] = len(g.Embeddings)
		if meta.Dim == 0 && len(g.Embeddings) > 0 {
			meta.Dim = len(g.Embeddings[0])
		}
	}
	return meta
}

func (h *HNSWIndex) Build(_ context.Context, groups []persongroup.Group) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	meta := metadataFor(groups)
	meta.BuildTime = time.Now()

	g := newGraph()
	var others []reference
	for gi, group := range groups {
		for _, e := range group.Embeddings {
			if len(e) == 0 {
				continue
			}
			if len(e) != meta.Dim {
				others = append(others, reference{group: gi, vec: e})
				continue
			}
			g.Add(hnsw.MakeNode(int64(len(meta.Nodes)), []float32(e)))
			meta.Nodes = append(meta.Nodes, gi)
		}
	}

	h.graph = g
	h.groups = groups
	h.meta = meta
	h.others = others

	if h.path != "" {
		return h.save()
	}
	return nil
}

func (h *HNSWIndex) Nearest(_ context.Context, probe []float32) (Candidate, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	best, bestScore := -1, 0.0
	consider := func(group int, score float64) {
		if best < 0 || score > bestScore || (score == bestScore && group < best) {
			best, bestScore = group, score
		}
	}

	if h.graph != nil && h.graph.Len() > 0 {
		if len(probe) == h.meta.Dim {
			for _, n := range h.graph.Search(probe, hnswSearchWidth) {
				consider(h.meta.Nodes[n.Key], Similarity(probe, n.Value))
			}
		} else {
			// Every graph node scores 0 against a probe of another length.
			consider(h.meta.Nodes[0], 0)
		}
	}
	for _, r := range h.others {
		consider(r.group, Similarity(probe, r.vec))
	}

	if best < 0 {
		return Candidate{}, false, nil
	}
	g := h.groups[best]
	return Candidate{GroupID: g.ID, Name: g.Name, Score: bestScore}, true, nil
}

// Len returns the number of embeddings in the graph.
func (h *HNSWIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.graph == nil {
		return 0
	}
	return h.graph.Len()
}

// save writes the graph and its metadata next to each other, each atomically.
func (h *HNSWIndex) save() error {
	if h.graph.Len() == 0 {
		// Best-effort cleanup of an older snapshot.
		_ = os.Remove(h.path)
		_ = os.Remove(h.path + ".meta")
		return nil
	}

	f, err := renameio.TempFile("", h.path)
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	defer f.Cleanup() //nolint:errcheck // no-op after CloseAtomicallyReplace

	if err := h.graph.Export(f); err != nil {
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to replace HNSW index file: %w", err)
	}

	metaData, err := json.Marshal(h.meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := renameio.WriteFile(h.path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// Load restores a snapshot written by Build, provided it was built from the same groups.
func (h *HNSWIndex) Load(groups []persongroup.Group) error {
	if h.path == "" {
		return errors.New("HNSW index has no snapshot path")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	metaData, err := os.ReadFile(h.path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to read metadata file: %w", err)
	}
	var meta HNSWIndexMetadata
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	want := metadataFor(groups)
	if meta.Version != hnswMetadataVersion || meta.Dim != want.Dim ||
		!slices.Equal(meta.GroupIDs, want.GroupIDs) || !slices.Equal(meta.Counts, want.Counts) {
		return ErrStaleSnapshot
	}

	f, err := os.Open(h.path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to open HNSW index file: %w", err)
	}
	defer f.Close()

	g := newGraph()
	if err := g.Import(f); err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}
	if g.Len() != len(meta.Nodes) {
		return ErrStaleSnapshot
	}

	var others []reference
	for gi, group := range groups {
		for _, e := range group.Embeddings {
			if len(e) > 0 && len(e) != meta.Dim {
				others = append(others, reference{group: gi, vec: e})
			}
		}
	}

	h.graph = g
	h.groups = groups
	h.meta = meta
	h.others = others
	return nil
}
