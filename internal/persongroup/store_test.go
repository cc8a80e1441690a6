package persongroup

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/kozaktomas/camflow/internal/database"
	"github.com/kozaktomas/camflow/internal/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	faces map[image.Image][]image.Rectangle
	err   error
}

func (f *fakeDetector) Detect(_ context.Context, img image.Image) ([]image.Rectangle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.faces[img], nil
}

type fakeEmbedder struct {
	fail  map[image.Rectangle]bool
	long  map[image.Rectangle]bool // yields a 4-dimensional embedding
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, _ image.Image, region image.Rectangle) (embedding.Embedding, error) {
	f.calls++
	if f.fail[region] {
		return nil, embedding.ErrExtraction
	}
	if f.long[region] {
		return embedding.Embedding{float32(region.Min.X), float32(region.Min.Y), 1, 1}, nil
	}
	return embedding.Embedding{float32(region.Min.X), float32(region.Min.Y), 1}, nil
}

func newImage() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 100, 100))
}

func TestAddReference_AliceWithFourEmbeddings(t *testing.T) {
	ctx := context.Background()
	db := database.NewMemoryStore()

	twoFaces, oneFaceA, oneFaceB := newImage(), newImage(), newImage()
	det := &fakeDetector{faces: map[image.Image][]image.Rectangle{
		twoFaces: {image.Rect(0, 0, 10, 10), image.Rect(20, 20, 30, 30)},
		oneFaceA: {image.Rect(5, 5, 15, 15)},
		oneFaceB: {image.Rect(40, 40, 60, 60)},
	}}
	s := Open(ctx, db, det, &fakeEmbedder{})

	for _, img := range []image.Image{twoFaces, oneFaceA, oneFaceB} {
		ok, err := s.AddReference(ctx, img, "Alice")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	groups := s.Groups()
	require.Len(t, groups, 1)
	assert.Equal(t, "Alice", groups[0].Name)
	assert.Len(t, groups[0].Embeddings, 4)
	assert.NotEmpty(t, groups[0].ID)

	reloaded := Open(ctx, db, det, &fakeEmbedder{})
	assert.Equal(t, groups, reloaded.Groups())
}

func TestAddReference_ZeroFacesLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	db := database.NewMemoryStore()
	emb := &fakeEmbedder{}
	s := Open(ctx, db, &fakeDetector{}, emb)

	ok, err := s.AddReference(ctx, newImage(), "Alice")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, s.Groups())
	assert.Zero(t, s.Revision())
	assert.Zero(t, emb.calls)
	assert.Zero(t, db.Len())
}

func TestAddReference_AllExtractionsFail(t *testing.T) {
	ctx := context.Background()
	img := newImage()
	face := image.Rect(0, 0, 10, 10)
	s := Open(ctx, database.NewMemoryStore(),
		&fakeDetector{faces: map[image.Image][]image.Rectangle{img: {face}}},
		&fakeEmbedder{fail: map[image.Rectangle]bool{face: true}},
	)

	ok, err := s.AddReference(ctx, img, "Bob")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, s.Groups())
}

func TestAddReference_PartialExtractionKeepsSuccesses(t *testing.T) {
	ctx := context.Background()
	img := newImage()
	bad := image.Rect(0, 0, 10, 10)
	s := Open(ctx, database.NewMemoryStore(),
		&fakeDetector{faces: map[image.Image][]image.Rectangle{img: {bad, image.Rect(50, 50, 70, 70)}}},
		&fakeEmbedder{fail: map[image.Rectangle]bool{bad: true}},
	)

	ok, err := s.AddReference(ctx, img, "Bob")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, s.Groups()[0].Embeddings, 1)
}

func TestAddReference_RejectsOtherEmbeddingLength(t *testing.T) {
	ctx := context.Background()
	db := database.NewMemoryStore()
	first, mixed, wrong := newImage(), newImage(), newImage()
	short, long := image.Rect(0, 0, 10, 10), image.Rect(30, 30, 40, 40)
	det := &fakeDetector{faces: map[image.Image][]image.Rectangle{
		first: {short},
		mixed: {long, image.Rect(50, 50, 60, 60)},
		wrong: {long},
	}}
	s := Open(ctx, db, det, &fakeEmbedder{long: map[image.Rectangle]bool{long: true}})

	ok, err := s.AddReference(ctx, first, "Alice")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.AddReference(ctx, mixed, "Alice")
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, s.Groups()[0].Embeddings, 2)
	for _, e := range s.Groups()[0].Embeddings {
		assert.Len(t, e, 3)
	}

	rev := s.Revision()
	ok, err = s.AddReference(ctx, wrong, "Alice")
	require.ErrorIs(t, err, ErrDimensionMismatch)
	assert.False(t, ok)
	assert.Len(t, s.Groups()[0].Embeddings, 2)
	assert.Equal(t, rev, s.Revision())

	ok, err = s.AddReference(ctx, wrong, "Bob")
	require.NoError(t, err, "a new group takes the length of its first embedding")
	assert.True(t, ok)

	reloaded := Open(ctx, db, det, &fakeEmbedder{})
	assert.Equal(t, s.Groups(), reloaded.Groups())
}

func TestAddReference_MatchesNormalizedName(t *testing.T) {
	ctx := context.Background()
	img := newImage()
	det := &fakeDetector{faces: map[image.Image][]image.Rectangle{img: {image.Rect(0, 0, 10, 10)}}}
	s := Open(ctx, database.NewMemoryStore(), det, &fakeEmbedder{})

	_, err := s.AddReference(ctx, img, "Jan Novák")
	require.NoError(t, err)
	_, err = s.AddReference(ctx, img, "jan-novak")
	require.NoError(t, err)

	groups := s.Groups()
	require.Len(t, groups, 1)
	assert.Equal(t, "Jan Novák", groups[0].Name)
	assert.Len(t, groups[0].Embeddings, 2)
}

func TestAddReference_Errors(t *testing.T) {
	ctx := context.Background()
	img := newImage()

	t.Run("empty name", func(t *testing.T) {
		s := Open(ctx, database.NewMemoryStore(), &fakeDetector{}, &fakeEmbedder{})
		_, err := s.AddReference(ctx, img, "   ")
		require.ErrorIs(t, err, ErrEmptyName)
	})

	t.Run("detector failure", func(t *testing.T) {
		s := Open(ctx, database.NewMemoryStore(), &fakeDetector{err: errors.New("offline")}, &fakeEmbedder{})
		_, err := s.AddReference(ctx, img, "Alice")
		require.Error(t, err)
	})

	t.Run("persist failure keeps memory unchanged", func(t *testing.T) {
		db := database.NewMemoryStore()
		det := &fakeDetector{faces: map[image.Image][]image.Rectangle{img: {image.Rect(0, 0, 10, 10)}}}
		s := Open(ctx, db, det, &fakeEmbedder{})
		db.SetError = errors.New("disk full")

		ok, err := s.AddReference(ctx, img, "Alice")
		require.Error(t, err)
		assert.False(t, ok)
		assert.Empty(t, s.Groups())
	})
}

func TestDeleteGroup(t *testing.T) {
	ctx := context.Background()
	img := newImage()
	db := database.NewMemoryStore()
	det := &fakeDetector{faces: map[image.Image][]image.Rectangle{img: {image.Rect(0, 0, 10, 10)}}}
	s := Open(ctx, db, det, &fakeEmbedder{})

	_, err := s.AddReference(ctx, img, "Alice")
	require.NoError(t, err)
	_, err = s.AddReference(ctx, img, "Bob")
	require.NoError(t, err)
	alice := s.Groups()[0]

	deleted, err := s.DeleteGroup(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteGroup(ctx, alice.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, found := s.Group(alice.ID)
	assert.False(t, found)

	reloaded := Open(ctx, db, det, &fakeEmbedder{})
	require.Len(t, reloaded.Groups(), 1)
	assert.Equal(t, "Bob", reloaded.Groups()[0].Name)
}

func TestOpen_CorruptOrMissingDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		s := Open(ctx, database.NewMemoryStore(), &fakeDetector{}, &fakeEmbedder{})
		assert.Empty(t, s.Groups())
	})

	t.Run("corrupt", func(t *testing.T) {
		db := database.NewMemoryStore()
		require.NoError(t, db.Set(ctx, DocumentKey, []byte("{not json")))
		s := Open(ctx, db, &fakeDetector{}, &fakeEmbedder{})
		assert.Empty(t, s.Groups())
	})

	t.Run("read error", func(t *testing.T) {
		db := database.NewMemoryStore()
		db.GetError = errors.New("io error")
		s := Open(ctx, db, &fakeDetector{}, &fakeEmbedder{})
		assert.Empty(t, s.Groups())
	})

	t.Run("empty groups dropped", func(t *testing.T) {
		db := database.NewMemoryStore()
		require.NoError(t, db.Set(ctx, DocumentKey, []byte(`[{"id":"1","name":"Ghost","embeddings":[]},{"id":"2","name":"Eve","embeddings":[[1,0]]}]`)))
		s := Open(ctx, db, &fakeDetector{}, &fakeEmbedder{})
		require.Len(t, s.Groups(), 1)
		assert.Equal(t, "Eve", s.Groups()[0].Name)
	})
}

func TestGroups_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	img := newImage()
	det := &fakeDetector{faces: map[image.Image][]image.Rectangle{img: {image.Rect(0, 0, 10, 10)}}}
	s := Open(ctx, database.NewMemoryStore(), det, &fakeEmbedder{})
	_, err := s.AddReference(ctx, img, "Alice")
	require.NoError(t, err)

	g := s.Groups()
	g[0].Embeddings[0][0] = 999
	assert.NotEqual(t, float32(999), s.Groups()[0].Embeddings[0][0])
}
