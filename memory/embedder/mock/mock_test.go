package mock

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedDeterministic(t *testing.T) {
	m := New(64)
	ctx := context.Background()

	a, err := m.Embed(ctx, "the same text")
	require.NoError(t, err)
	b, err := m.Embed(ctx, "the same text")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c, err := m.Embed(ctx, "different text")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestEmbedUnitNorm(t *testing.T) {
	m := New(32)
	emb, err := m.Embed(context.Background(), "normalize me")
	require.NoError(t, err)

	var norm float64
	for _, v := range emb {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestDefaultDimensions(t *testing.T) {
	assert.Equal(t, 384, New(0).Dimensions())
	assert.Equal(t, 8, New(8).Dimensions())
}

func TestFixPinsEmbedding(t *testing.T) {
	m := New(3)
	pinned := []float32{1, 0, 0}
	m.Fix("pinned text", pinned)

	emb, err := m.Embed(context.Background(), "pinned text")
	require.NoError(t, err)
	assert.Equal(t, pinned, emb)
}

func TestFailInjectsError(t *testing.T) {
	m := New(4)
	wantErr := errors.New("injected")
	m.Fail(wantErr)

	_, err := m.Embed(context.Background(), "anything")
	assert.ErrorIs(t, err, wantErr)

	m.Fail(nil)
	_, err = m.Embed(context.Background(), "anything")
	assert.NoError(t, err)
}
