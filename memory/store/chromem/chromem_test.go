package chromem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/mnemo-go-sdk/core"
	"github.com/becomeliminal/mnemo-go-sdk/memory/embedder/mock"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func msgAt(id, userID, convID string, role core.Role, text string, ts time.Time, emb []float32) core.Message {
	return core.Message{
		ID:             id,
		UserID:         userID,
		ConversationID: convID,
		Role:           role,
		Text:           text,
		Timestamp:      ts,
		Embedding:      emb,
	}
}

func TestInsertAndListMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	emb := mock.New(0)
	for i, text := range []string{"first", "second", "third"} {
		v, err := emb.Embed(ctx, text)
		require.NoError(t, err)
		m := msgAt(text, "alice", "conv-1", core.RoleHuman, text, base.Add(time.Duration(i)*time.Minute), v)
		require.NoError(t, s.InsertMessage(ctx, m))
	}
	// Different conversation must not leak in.
	v, err := emb.Embed(ctx, "other")
	require.NoError(t, err)
	require.NoError(t, s.InsertMessage(ctx, msgAt("other", "alice", "conv-2", core.RoleHuman, "other", base, v)))

	msgs, err := s.ListMessages(ctx, "alice", "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].ID)
	assert.Equal(t, "third", msgs[2].ID)
}

func TestInsertMessageWithoutEmbedding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := msgAt("m1", "alice", "conv-1", core.RoleHuman, "kubernetes deployment failing", time.Now(), nil)
	require.NoError(t, s.InsertMessage(ctx, m))

	// Invisible to vector search, still present for keyword search.
	emb := mock.New(0)
	v, err := emb.Embed(ctx, "kubernetes")
	require.NoError(t, err)
	vecHits, err := s.SearchMessagesByVector(ctx, "alice", v, 5)
	require.NoError(t, err)
	assert.Empty(t, vecHits)

	kwHits, err := s.SearchMessagesByKeyword(ctx, "alice", "kubernetes", 5)
	require.NoError(t, err)
	require.Len(t, kwHits, 1)
	assert.Equal(t, "m1", kwHits[0].Message.ID)
}

func TestSearchMessagesByVector(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	emb := mock.New(0)

	texts := []string{"deploying to kubernetes", "baking sourdough bread", "tuning postgres indexes"}
	for i, text := range texts {
		v, err := emb.Embed(ctx, text)
		require.NoError(t, err)
		m := msgAt(text, "alice", "conv-1", core.RoleHuman, text, time.Now().Add(time.Duration(i)*time.Second), v)
		require.NoError(t, s.InsertMessage(ctx, m))
	}

	query, err := emb.Embed(ctx, "deploying to kubernetes")
	require.NoError(t, err)
	hits, err := s.SearchMessagesByVector(ctx, "alice", query, 2)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "deploying to kubernetes", hits[0].Message.ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-4)
	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Score, 0.0)
		assert.LessOrEqual(t, h.Score, 1.0)
	}
}

func TestSearchTopKLargerThanCollection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	emb := mock.New(0)

	v, err := emb.Embed(ctx, "only message")
	require.NoError(t, err)
	require.NoError(t, s.InsertMessage(ctx, msgAt("m1", "alice", "conv-1", core.RoleHuman, "only message", time.Now(), v)))

	hits, err := s.SearchMessagesByVector(ctx, "alice", v, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestSearchUnknownUser(t *testing.T) {
	s := newTestStore(t)
	emb := mock.New(0)
	v, err := emb.Embed(context.Background(), "anything")
	require.NoError(t, err)

	hits, err := s.SearchMessagesByVector(context.Background(), "nobody", v, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	nodeHits, err := s.SearchNodesByVector(context.Background(), "nobody", v, 5)
	require.NoError(t, err)
	assert.Empty(t, nodeHits)
}

func TestKeywordOverlapScoring(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertMessage(ctx, msgAt("both", "alice", "c", core.RoleHuman, "kubernetes cluster upgrade", time.Now(), nil)))
	require.NoError(t, s.InsertMessage(ctx, msgAt("one", "alice", "c", core.RoleHuman, "the cluster is down", time.Now(), nil)))
	require.NoError(t, s.InsertMessage(ctx, msgAt("none", "alice", "c", core.RoleHuman, "sourdough starter feeding", time.Now(), nil)))

	hits, err := s.SearchMessagesByKeyword(ctx, "alice", "kubernetes cluster", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "both", hits[0].Message.ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.InDelta(t, 0.5, hits[1].Score, 1e-9)
}

func TestFindWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		m := msgAt(id, "alice", "conv-1", core.RoleHuman, id, base.Add(time.Duration(i)*time.Minute), nil)
		require.NoError(t, s.InsertMessage(ctx, m))
	}

	// Anchor at message "e" (index 4): 3 at-or-before, 3 after.
	window, err := s.FindWindow(ctx, "alice", "conv-1", base.Add(4*time.Minute), 3, 3)
	require.NoError(t, err)
	ids := make([]string, 0, len(window))
	for _, m := range window {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"c", "d", "e", "f", "g", "h"}, ids)

	// Anchor at the start: nothing before the anchor besides itself.
	window, err = s.FindWindow(ctx, "alice", "conv-1", base, 3, 2)
	require.NoError(t, err)
	require.Len(t, window, 3)
	assert.Equal(t, "a", window[0].ID)
	assert.Equal(t, "c", window[2].ID)
}

func TestNodeLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	emb := mock.New(0)

	v, err := emb.Embed(ctx, "user prefers dark mode")
	require.NoError(t, err)
	node := core.MemoryNode{
		ID:         "n1",
		UserID:     "alice",
		Content:    "user prefers dark mode",
		Summary:    "prefers dark mode",
		Importance: 0.7,
		CreatedAt:  time.Now(),
		Embedding:  v,
	}
	require.NoError(t, s.InsertNode(ctx, node))

	got, err := s.FindNode(ctx, "alice", "n1")
	require.NoError(t, err)
	assert.Equal(t, 0.7, got.Importance)

	// Update must survive a re-query.
	node.Importance = 0.77
	node.AccessCount = 2
	require.NoError(t, s.UpdateNode(ctx, node))
	got, err = s.FindNode(ctx, "alice", "n1")
	require.NoError(t, err)
	assert.Equal(t, 0.77, got.Importance)
	assert.Equal(t, 2, got.AccessCount)

	hits, err := s.SearchNodesByVector(ctx, "alice", v, 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "n1", hits[0].Node.ID)
	assert.Equal(t, 0.77, hits[0].Node.Importance)

	require.NoError(t, s.DeleteNode(ctx, "alice", "n1"))
	_, err = s.FindNode(ctx, "alice", "n1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	hits, err = s.SearchNodesByVector(ctx, "alice", v, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestUpdateMissingNode(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateNode(context.Background(), core.MemoryNode{ID: "ghost", UserID: "alice"})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestListNodesSortedByCreation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	emb := mock.New(0)
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	for _, id := range []string{"n3", "n1", "n2"} {
		v, err := emb.Embed(ctx, id)
		require.NoError(t, err)
		offset := map[string]int{"n1": 0, "n2": 1, "n3": 2}[id]
		require.NoError(t, s.InsertNode(ctx, core.MemoryNode{
			ID:         id,
			UserID:     "alice",
			Content:    id,
			Importance: 0.5,
			CreatedAt:  base.Add(time.Duration(offset) * time.Hour),
			Embedding:  v,
		}))
	}

	nodes, err := s.ListNodes(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, "n1", nodes[0].ID)
	assert.Equal(t, "n3", nodes[2].ID)
}

func TestUserIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	emb := mock.New(0)

	v, err := emb.Embed(ctx, "alice secret")
	require.NoError(t, err)
	require.NoError(t, s.InsertNode(ctx, core.MemoryNode{
		ID: "n1", UserID: "alice", Content: "alice secret", Importance: 0.5,
		CreatedAt: time.Now(), Embedding: v,
	}))

	nodes, err := s.ListNodes(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, nodes)

	hits, err := s.SearchNodesByVector(ctx, "bob", v, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
