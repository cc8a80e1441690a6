package handoff

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kozaktomas/camflow/internal/delivery"
	"github.com/kozaktomas/camflow/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSpec() TaskSpec {
	return TaskSpec{
		ModelName:   "llava",
		Images:      []string{"a.jpg", "b.jpg"},
		Prompt:      "describe",
		Mode:        pipeline.ModeAnalyze,
		Destination: delivery.Destination{Kind: delivery.KindTelegram, Address: "42"},
	}
}

func TestRegistry_PeekThenClaim(t *testing.T) {
	r := NewRegistry()
	id := r.Register(sampleSpec())
	require.NotEmpty(t, id)
	assert.True(t, r.Has(id))

	spec, ok := r.Peek(id)
	require.True(t, ok)
	assert.Equal(t, sampleSpec(), spec)
	assert.True(t, r.Has(id), "peek must not remove the entry")

	spec, ok = r.Claim(id)
	require.True(t, ok)
	assert.Equal(t, "describe", spec.Prompt)
	assert.False(t, r.Has(id))

	_, ok = r.Claim(id)
	assert.False(t, ok)
	_, ok = r.Peek(id)
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestRegistry_UniqueIDs(t *testing.T) {
	r := NewRegistry()
	seen := make(map[string]bool)
	for range 100 {
		id := r.Register(sampleSpec())
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.Equal(t, 100, r.Len())
}

func TestRegistry_SpecIsCopied(t *testing.T) {
	r := NewRegistry()
	spec := sampleSpec()
	id := r.Register(spec)
	spec.Images[0] = "changed.jpg"

	got, _ := r.Peek(id)
	assert.Equal(t, "a.jpg", got.Images[0])
	got.Images[1] = "changed.jpg"

	again, _ := r.Peek(id)
	assert.Equal(t, "b.jpg", again.Images[1])
}

func TestRegistry_ConcurrentClaimHasOneWinner(t *testing.T) {
	r := NewRegistry()
	id := r.Register(sampleSpec())

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Claim(id); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
