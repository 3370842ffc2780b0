package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/mnemo-go-sdk/core"
	"github.com/becomeliminal/mnemo-go-sdk/memory"
)

type recordingStore struct {
	mu        sync.Mutex
	messages  []core.Message
	insertErr error
}

func (s *recordingStore) InsertMessage(ctx context.Context, msg core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *recordingStore) ListMessages(ctx context.Context, userID, conversationID string) ([]core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Message
	for _, m := range s.messages {
		if m.UserID == userID && m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *recordingStore) SearchMessagesByVector(ctx context.Context, userID string, embedding []float32, topK int) ([]memory.MessageHit, error) {
	return nil, nil
}
func (s *recordingStore) SearchMessagesByKeyword(ctx context.Context, userID, query string, topK int) ([]memory.MessageHit, error) {
	return nil, nil
}
func (s *recordingStore) FindWindow(ctx context.Context, userID, conversationID string, anchor time.Time, before, after int) ([]core.Message, error) {
	return nil, nil
}
func (s *recordingStore) InsertNode(ctx context.Context, node core.MemoryNode) error  { return nil }
func (s *recordingStore) UpdateNode(ctx context.Context, node core.MemoryNode) error  { return nil }
func (s *recordingStore) DeleteNode(ctx context.Context, userID, nodeID string) error { return nil }
func (s *recordingStore) FindNode(ctx context.Context, userID, nodeID string) (core.MemoryNode, error) {
	return core.MemoryNode{}, core.ErrNotFound
}
func (s *recordingStore) ListNodes(ctx context.Context, userID string) ([]core.MemoryNode, error) {
	return nil, nil
}
func (s *recordingStore) SearchNodesByVector(ctx context.Context, userID string, embedding []float32, topK int) ([]memory.NodeHit, error) {
	return nil, nil
}
func (s *recordingStore) Close() error { return nil }

type stubEmbedder struct {
	err error
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return make([]float32, 4), nil
}
func (e *stubEmbedder) Dimensions() int { return 4 }

type spyConsolidator struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (c *spyConsolidator) Consolidate(ctx context.Context, userID, text string) (*memory.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	if c.err != nil {
		return &memory.Result{Outcome: memory.OutcomeSkipped}, c.err
	}
	return &memory.Result{Outcome: memory.OutcomeCreated, NodeID: "n1"}, nil
}

const longText = "I have been learning woodworking every weekend this year"

func TestAddStoresMessageWithEmbedding(t *testing.T) {
	store := &recordingStore{}
	r := NewRecorder(store, &stubEmbedder{}, nil)

	msg, err := r.Add(context.Background(), "Alice", "c1", core.RoleHuman, "hello there")
	require.NoError(t, err)
	assert.Equal(t, "alice", msg.UserID)
	assert.NotEmpty(t, msg.ID)
	assert.Len(t, msg.Embedding, 4)
	require.Len(t, store.messages, 1)
}

func TestAddLongHumanMessageConsolidates(t *testing.T) {
	store := &recordingStore{}
	spy := &spyConsolidator{}
	r := NewRecorder(store, &stubEmbedder{}, spy)

	_, err := r.Add(context.Background(), "u1", "c1", core.RoleHuman, longText)
	require.NoError(t, err)
	require.Len(t, spy.texts, 1)
	assert.True(t, strings.HasPrefix(spy.texts[0], "From conversation c1: "))
	assert.Contains(t, spy.texts[0], longText)
}

func TestAddShortMessageSkipsConsolidation(t *testing.T) {
	spy := &spyConsolidator{}
	r := NewRecorder(&recordingStore{}, &stubEmbedder{}, spy)

	_, err := r.Add(context.Background(), "u1", "c1", core.RoleHuman, "ok thanks")
	require.NoError(t, err)
	assert.Empty(t, spy.texts)
}

func TestAddAssistantMessageSkipsConsolidation(t *testing.T) {
	spy := &spyConsolidator{}
	r := NewRecorder(&recordingStore{}, &stubEmbedder{}, spy)

	_, err := r.Add(context.Background(), "u1", "c1", core.RoleAssistant, longText)
	require.NoError(t, err)
	assert.Empty(t, spy.texts)
}

func TestAddSurvivesEmbeddingFailure(t *testing.T) {
	store := &recordingStore{}
	spy := &spyConsolidator{}
	r := NewRecorder(store, &stubEmbedder{err: errors.New("model offline")}, spy)

	msg, err := r.Add(context.Background(), "u1", "c1", core.RoleHuman, longText)
	require.NoError(t, err)
	assert.Empty(t, msg.Embedding)
	require.Len(t, store.messages, 1)
	// Consolidation still runs; its own embedding path decides its fate.
	assert.Len(t, spy.texts, 1)
}

func TestAddSurvivesConsolidationFailure(t *testing.T) {
	store := &recordingStore{}
	spy := &spyConsolidator{err: errors.New("oracle down")}
	r := NewRecorder(store, &stubEmbedder{}, spy)

	_, err := r.Add(context.Background(), "u1", "c1", core.RoleHuman, longText)
	require.NoError(t, err)
	require.Len(t, store.messages, 1)
}

func TestAddStoreFailureIsFatal(t *testing.T) {
	store := &recordingStore{insertErr: errors.New("disk full")}
	r := NewRecorder(store, &stubEmbedder{}, nil)

	_, err := r.Add(context.Background(), "u1", "c1", core.RoleHuman, "hello")
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
}

func TestAddValidation(t *testing.T) {
	r := NewRecorder(&recordingStore{}, &stubEmbedder{}, nil)
	ctx := context.Background()

	_, err := r.Add(ctx, "", "c1", core.RoleHuman, "hi")
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = r.Add(ctx, "u1", "", core.RoleHuman, "hi")
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = r.Add(ctx, "u1", "c1", core.RoleHuman, "  ")
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = r.Add(ctx, "u1", "c1", core.Role("robot"), "hi")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestHistory(t *testing.T) {
	store := &recordingStore{}
	r := NewRecorder(store, &stubEmbedder{}, nil)
	ctx := context.Background()

	_, err := r.Add(ctx, "u1", "c1", core.RoleHuman, "first")
	require.NoError(t, err)
	_, err = r.Add(ctx, "u1", "c1", core.RoleAssistant, "second")
	require.NoError(t, err)
	_, err = r.Add(ctx, "u1", "c2", core.RoleHuman, "elsewhere")
	require.NoError(t, err)

	msgs, err := r.History(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Text)

	_, err = r.History(ctx, "", "c1")
	assert.ErrorIs(t, err, core.ErrValidation)
}
