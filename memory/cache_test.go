package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 0, 0, 0}, nil
}

func (e *countingEmbedder) Dimensions() int { return 4 }

func TestCachedEmbedderHitsCache(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := NewCachedEmbedder(inner, 100)
	require.NoError(t, err)
	defer c.Close()

	first, err := c.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	// Ristretto admits writes asynchronously; flush before re-reading.
	c.cache.Wait()

	second, err := c.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)

	_, err = c.Embed(context.Background(), "different text")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedEmbedderNeverCachesErrors(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("model offline")}
	c, err := NewCachedEmbedder(inner, 100)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Embed(context.Background(), "text")
	require.Error(t, err)
	c.cache.Wait()

	inner.mu.Lock()
	inner.err = nil
	inner.mu.Unlock()

	emb, err := c.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, emb, 4)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedEmbedderDimensionsPassthrough(t *testing.T) {
	c, err := NewCachedEmbedder(&countingEmbedder{}, 0)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, 4, c.Dimensions())
}
