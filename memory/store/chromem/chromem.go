// Package chromem adapts chromem-go, a pure Go embedded vector database,
// to the memory.Store interface. Vector similarity queries run against
// per-user chromem collections; an adapter-side document index serves
// everything chromem does not: keyword scoring, conversation windows,
// listing, and lookups by ID.
package chromem

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/becomeliminal/mnemo-go-sdk/core"
	"github.com/becomeliminal/mnemo-go-sdk/memory"
)

// Store keeps conversation messages and memory nodes in two logical
// collections, namespaced per user. Everything lives in process memory;
// production deployments swap in a pgvector-backed Store.
type Store struct {
	db     *chromem.DB
	logger *zap.Logger

	mu       sync.RWMutex
	msgCols  map[string]*chromem.Collection
	nodeCols map[string]*chromem.Collection
	messages map[string]map[string]core.Message    // userID -> messageID -> message
	nodes    map[string]map[string]core.MemoryNode // userID -> nodeID -> node
}

// Option configures the store.
type Option func(*Store)

// WithLogger sets a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates an in-memory chromem-backed store.
func New(opts ...Option) (*Store, error) {
	s := &Store{
		db:       chromem.NewDB(),
		logger:   zap.NewNop(),
		msgCols:  make(map[string]*chromem.Collection),
		nodeCols: make(map[string]*chromem.Collection),
		messages: make(map[string]map[string]core.Message),
		nodes:    make(map[string]map[string]core.MemoryNode),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// collection returns the user's chromem collection of the given kind,
// creating it on first use. Callers must hold s.mu.
func (s *Store) collection(cols map[string]*chromem.Collection, kind, userID string) (*chromem.Collection, error) {
	if col, ok := cols[userID]; ok {
		return col, nil
	}
	name := fmt.Sprintf("%s_%s", kind, userID)
	col, err := s.db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	cols[userID] = col
	return col, nil
}

// InsertMessage persists a conversation message. Messages without an
// embedding (oracle was down at write time) are indexed for keyword
// search only.
func (s *Store) InsertMessage(ctx context.Context, msg core.Message) error {
	if msg.ID == "" || msg.UserID == "" {
		return fmt.Errorf("message id and user id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.messages[msg.UserID] == nil {
		s.messages[msg.UserID] = make(map[string]core.Message)
	}
	s.messages[msg.UserID][msg.ID] = msg

	if len(msg.Embedding) == 0 {
		return nil
	}
	col, err := s.collection(s.msgCols, "messages", msg.UserID)
	if err != nil {
		return err
	}
	return col.AddDocument(ctx, chromem.Document{
		ID:        msg.ID,
		Content:   msg.Text,
		Embedding: msg.Embedding,
	})
}

// ListMessages returns a conversation's messages in chronological order.
func (s *Store) ListMessages(ctx context.Context, userID, conversationID string) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Message
	for _, msg := range s.messages[userID] {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	sortChronological(out)
	return out, nil
}

// SearchMessagesByVector returns the topK most similar messages.
func (s *Store) SearchMessagesByVector(ctx context.Context, userID string, embedding []float32, topK int) ([]memory.MessageHit, error) {
	s.mu.RLock()
	col, ok := s.msgCols[userID]
	docs := s.messages[userID]
	s.mu.RUnlock()

	if !ok || len(docs) == 0 {
		return nil, nil
	}

	results, err := s.query(ctx, col, embedding, topK)
	if err != nil {
		return nil, err
	}

	hits := make([]memory.MessageHit, 0, len(results))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, res := range results {
		msg, ok := s.messages[userID][res.ID]
		if !ok {
			continue
		}
		hits = append(hits, memory.MessageHit{
			Message: msg,
			Score:   clamp01(float64(res.Similarity)),
		})
	}
	return hits, nil
}

// SearchMessagesByKeyword scores messages by normalized token overlap
// with the query, the embedded stand-in for a full-text index.
func (s *Store) SearchMessagesByKeyword(ctx context.Context, userID, query string, topK int) ([]memory.MessageHit, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []memory.MessageHit
	for _, msg := range s.messages[userID] {
		score := overlapScore(terms, tokenize(msg.Text))
		if score > 0 {
			hits = append(hits, memory.MessageHit{Message: msg, Score: score})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Message.Timestamp.After(hits[j].Message.Timestamp)
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// FindWindow returns up to `before` messages at-or-before the anchor and
// `after` messages strictly after it, chronological.
func (s *Store) FindWindow(ctx context.Context, userID, conversationID string, anchor time.Time, before, after int) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var prev, next []core.Message
	for _, msg := range s.messages[userID] {
		if msg.ConversationID != conversationID {
			continue
		}
		if !msg.Timestamp.After(anchor) {
			prev = append(prev, msg)
		} else {
			next = append(next, msg)
		}
	}

	// Closest-first on each side, then rejoined chronologically.
	sort.Slice(prev, func(i, j int) bool { return prev[i].Timestamp.After(prev[j].Timestamp) })
	sort.Slice(next, func(i, j int) bool { return next[i].Timestamp.Before(next[j].Timestamp) })
	if len(prev) > before {
		prev = prev[:before]
	}
	if len(next) > after {
		next = next[:after]
	}

	window := append(prev, next...)
	sortChronological(window)
	return window, nil
}

// InsertNode persists a new memory node.
func (s *Store) InsertNode(ctx context.Context, node core.MemoryNode) error {
	if node.ID == "" || node.UserID == "" {
		return fmt.Errorf("node id and user id are required")
	}
	if len(node.Embedding) == 0 {
		return fmt.Errorf("node embedding is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nodes[node.UserID] == nil {
		s.nodes[node.UserID] = make(map[string]core.MemoryNode)
	}
	s.nodes[node.UserID][node.ID] = node

	col, err := s.collection(s.nodeCols, "memories", node.UserID)
	if err != nil {
		return err
	}
	return col.AddDocument(ctx, chromem.Document{
		ID:        node.ID,
		Content:   node.Content,
		Embedding: node.Embedding,
	})
}

// UpdateNode replaces an existing node. The vector index entry is
// re-added because merges change the embedding.
func (s *Store) UpdateNode(ctx context.Context, node core.MemoryNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.nodes[node.UserID][node.ID]
	if !ok {
		return fmt.Errorf("update node %s: %w", node.ID, core.ErrNotFound)
	}
	if len(node.Embedding) == 0 {
		node.Embedding = existing.Embedding
	}
	s.nodes[node.UserID][node.ID] = node

	col, err := s.collection(s.nodeCols, "memories", node.UserID)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, node.ID); err != nil {
		return fmt.Errorf("reindex node %s: %w", node.ID, err)
	}
	return col.AddDocument(ctx, chromem.Document{
		ID:        node.ID,
		Content:   node.Content,
		Embedding: node.Embedding,
	})
}

// DeleteNode removes a node permanently.
func (s *Store) DeleteNode(ctx context.Context, userID, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[userID][nodeID]; !ok {
		return fmt.Errorf("delete node %s: %w", nodeID, core.ErrNotFound)
	}
	delete(s.nodes[userID], nodeID)

	col, ok := s.nodeCols[userID]
	if !ok {
		return nil
	}
	return col.Delete(ctx, nil, nil, nodeID)
}

// FindNode returns a node by ID.
func (s *Store) FindNode(ctx context.Context, userID, nodeID string) (core.MemoryNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[userID][nodeID]
	if !ok {
		return core.MemoryNode{}, fmt.Errorf("node %s: %w", nodeID, core.ErrNotFound)
	}
	return node, nil
}

// ListNodes returns all of a user's live nodes.
func (s *Store) ListNodes(ctx context.Context, userID string) ([]core.MemoryNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.MemoryNode, 0, len(s.nodes[userID]))
	for _, node := range s.nodes[userID] {
		out = append(out, node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SearchNodesByVector returns the topK most similar memory nodes.
func (s *Store) SearchNodesByVector(ctx context.Context, userID string, embedding []float32, topK int) ([]memory.NodeHit, error) {
	s.mu.RLock()
	col, ok := s.nodeCols[userID]
	docs := s.nodes[userID]
	s.mu.RUnlock()

	if !ok || len(docs) == 0 {
		return nil, nil
	}

	results, err := s.query(ctx, col, embedding, topK)
	if err != nil {
		return nil, err
	}

	hits := make([]memory.NodeHit, 0, len(results))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, res := range results {
		node, ok := s.nodes[userID][res.ID]
		if !ok {
			continue
		}
		hits = append(hits, memory.NodeHit{
			Node:       node,
			Similarity: clamp01(float64(res.Similarity)),
		})
	}
	return hits, nil
}

// Close releases resources. chromem keeps everything in memory, so this
// only drops the indexes.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgCols = map[string]*chromem.Collection{}
	s.nodeCols = map[string]*chromem.Collection{}
	return nil
}

// query runs a vector query, shrinking nResults when the collection
// holds fewer documents than requested (chromem rejects oversized
// queries instead of truncating).
func (s *Store) query(ctx context.Context, col *chromem.Collection, embedding []float32, topK int) ([]chromem.Result, error) {
	for limit := topK; limit >= 1; limit-- {
		results, err := col.QueryEmbedding(ctx, embedding, limit, nil, nil)
		if err == nil {
			return results, nil
		}
		if isTooFewDocs(err) {
			if limit == 1 {
				return nil, nil
			}
			continue
		}
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	return nil, nil
}

func isTooFewDocs(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}

func sortChronological(msgs []core.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()[]")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// overlapScore is the fraction of distinct query terms present in the
// document, in [0,1].
func overlapScore(queryTerms, docTerms []string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	docSet := make(map[string]struct{}, len(docTerms))
	for _, t := range docTerms {
		docSet[t] = struct{}{}
	}

	distinct := make(map[string]struct{}, len(queryTerms))
	matched := 0
	for _, t := range queryTerms {
		if _, seen := distinct[t]; seen {
			continue
		}
		distinct[t] = struct{}{}
		if _, ok := docSet[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(distinct))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
