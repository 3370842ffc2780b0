package memory

import (
	"context"
	"time"

	"github.com/becomeliminal/mnemo-go-sdk/core"
)

// Embedder converts text to vector embeddings.
// Implementations: mock (testing), onnx (local SDK), or an API-based
// embedder in production. Over-long input must be truncated or rejected
// deterministically, and failures must surface as errors, never as zero
// vectors.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed embedding vector size.
	Dimensions() int
}

// Assessment is the importance/summary oracle's verdict on a piece of
// content. Importance is a raw 1-10 rating; the engine normalizes it.
type Assessment struct {
	Importance int
	Summary    string
}

// Assessor rates content importance and produces a one-sentence summary.
// Treated as an opaque oracle: the engine only depends on this contract.
type Assessor interface {
	Assess(ctx context.Context, content string) (Assessment, error)
}

// MessageHit is a scored message from a store search. Score semantics
// depend on the search: cosine similarity for vector queries, normalized
// text relevance for keyword queries. Both live in [0,1].
type MessageHit struct {
	Message core.Message
	Score   float64
}

// NodeHit is a memory node with its vector similarity to a query.
type NodeHit struct {
	Node       core.MemoryNode
	Similarity float64
}

// Store is the vector+keyword storage backend, holding two logical
// collections: conversation messages and memory nodes. Implementations
// provide per-document atomicity only; the consolidation engine's
// per-user lock is the correctness mechanism across multi-step sequences.
//
// Implementations: chromem (embedded, local SDK), pgvector (production).
type Store interface {
	// Message collection. Messages are append-only; the engine never
	// deletes them.
	InsertMessage(ctx context.Context, msg core.Message) error
	ListMessages(ctx context.Context, userID, conversationID string) ([]core.Message, error)
	SearchMessagesByVector(ctx context.Context, userID string, embedding []float32, topK int) ([]MessageHit, error)
	SearchMessagesByKeyword(ctx context.Context, userID, query string, topK int) ([]MessageHit, error)

	// FindWindow returns up to `before` messages at-or-before the anchor
	// timestamp and `after` messages strictly after it, same user and
	// conversation, in chronological order.
	FindWindow(ctx context.Context, userID, conversationID string, anchor time.Time, before, after int) ([]core.Message, error)

	// Memory node collection.
	InsertNode(ctx context.Context, node core.MemoryNode) error
	UpdateNode(ctx context.Context, node core.MemoryNode) error
	DeleteNode(ctx context.Context, userID, nodeID string) error
	FindNode(ctx context.Context, userID, nodeID string) (core.MemoryNode, error)
	ListNodes(ctx context.Context, userID string) ([]core.MemoryNode, error)
	SearchNodesByVector(ctx context.Context, userID string, embedding []float32, topK int) ([]NodeHit, error)

	// Close releases resources.
	Close() error
}
