// Package retrieval implements hybrid search over a user's conversation
// history and consolidated memories. A query is answered from two
// modalities at once: vector similarity and keyword relevance, fused
// into a single score per message. Surviving hits are expanded with
// surrounding conversation context and summarized.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/becomeliminal/mnemo-go-sdk/core"
	"github.com/becomeliminal/mnemo-go-sdk/memory"
)

// memoryTopK is the fixed number of memory nodes surfaced per query,
// independent of the message-side threshold.
const memoryTopK = 3

// Context window sizes around a matched message. Human messages anchor
// a question, so more context follows; assistant messages anchor an
// answer, so more context precedes.
const (
	humanBefore     = 3
	humanAfter      = 3
	assistantBefore = 4
	assistantAfter  = 2
)

// Summarizer produces a short natural-language summary of a message
// sequence. Supplementary: retrieval degrades without it.
type Summarizer interface {
	Summarize(ctx context.Context, messages []core.Message) (string, error)
}

// Config holds the ranker's tuning knobs.
type Config struct {
	// WeightVector is the vector-similarity weight in hybrid fusion;
	// keyword relevance gets the complement.
	WeightVector float64

	// RelevanceThreshold is the minimum fused score for a message hit
	// to surface.
	RelevanceThreshold float64

	// NCandidates is the candidate pool size per modality.
	NCandidates int

	// Retry bounds transient oracle and store failures.
	Retry core.RetryPolicy
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		WeightVector:       0.8,
		RelevanceThreshold: 0.70,
		NCandidates:        5,
		Retry:              core.DefaultRetryPolicy(),
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.WeightVector < 0 || c.WeightVector > 1 {
		return fmt.Errorf("%w: weight vector %v outside [0,1]", core.ErrValidation, c.WeightVector)
	}
	if c.RelevanceThreshold < 0 || c.RelevanceThreshold > 1 {
		return fmt.Errorf("%w: relevance threshold %v outside [0,1]", core.ErrValidation, c.RelevanceThreshold)
	}
	if c.NCandidates < 1 {
		return fmt.Errorf("%w: candidate pool must be at least 1", core.ErrValidation)
	}
	return nil
}

// MemoryHit is a consolidated memory surfaced for a query. Importance
// is the access-weighted effective importance, not the stored value.
type MemoryHit struct {
	Content    string  `json:"content"`
	Summary    string  `json:"summary"`
	Similarity float64 `json:"similarity"`
	Importance float64 `json:"importance"`
}

// Result is a retrieval response. NoMatches distinguishes "searched,
// found nothing" from a zero value; SummaryFailed marks a degraded
// response whose summary oracle was unavailable.
type Result struct {
	RelatedMessages     []core.Message `json:"related_messages"`
	ConversationSummary string         `json:"conversation_summary,omitempty"`
	SimilarMemories     []MemoryHit    `json:"similar_memories"`
	NoMatches           bool           `json:"no_matches"`
	SummaryFailed       bool           `json:"summary_failed,omitempty"`
}

// Ranker answers semantic queries against the message log and the
// memory set.
type Ranker struct {
	store      memory.Store
	embedder   memory.Embedder
	summarizer Summarizer
	cfg        Config
	logger     *zap.Logger
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithLogger sets a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Ranker) { r.logger = l }
}

// NewRanker creates a hybrid retrieval ranker. The summarizer may be
// nil, in which case every result reports SummaryFailed.
func NewRanker(store memory.Store, embedder memory.Embedder, summarizer Summarizer, cfg Config, opts ...Option) (*Ranker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Ranker{
		store:      store,
		embedder:   embedder,
		summarizer: summarizer,
		cfg:        cfg,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Retrieve runs a hybrid query for the user. Query embedding failure is
// fatal (no store query is attempted); summary failure degrades the
// result instead of failing it.
func (r *Ranker) Retrieve(ctx context.Context, userID, query string) (*Result, error) {
	userID = strings.ToLower(strings.TrimSpace(userID))
	query = strings.TrimSpace(query)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", core.ErrValidation)
	}
	if query == "" {
		return nil, fmt.Errorf("%w: query text is required", core.ErrValidation)
	}

	embedding, err := r.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	fused, err := r.fuseMessageScores(ctx, userID, query, embedding)
	if err != nil {
		return nil, err
	}

	related, err := r.expandWindows(ctx, userID, fused)
	if err != nil {
		return nil, err
	}

	memories, err := r.similarMemories(ctx, userID, embedding)
	if err != nil {
		return nil, err
	}

	result := &Result{
		RelatedMessages: related,
		SimilarMemories: memories,
		NoMatches:       len(fused) == 0,
	}

	if len(related) > 0 {
		summary, err := r.summarize(ctx, related)
		if err != nil {
			r.logger.Warn("conversation summary unavailable",
				zap.String("user_id", userID),
				zap.Error(err))
			result.SummaryFailed = true
		} else {
			result.ConversationSummary = summary
		}
	}

	r.logger.Debug("retrieval complete",
		zap.String("user_id", userID),
		zap.Int("related_messages", len(related)),
		zap.Int("similar_memories", len(memories)),
		zap.Bool("no_matches", result.NoMatches))
	return result, nil
}

// scored pairs a message with its fused hybrid score.
type scored struct {
	msg   core.Message
	score float64
}

// fuseMessageScores runs both search modalities and fuses per-message:
// weightVector*vector + (1-weightVector)*keyword, a missing modality
// contributing zero. Scores are clamped to [0,1] before fusion.
func (r *Ranker) fuseMessageScores(ctx context.Context, userID, query string, embedding []float32) ([]scored, error) {
	var vecHits, kwHits []memory.MessageHit
	err := core.Retry(ctx, r.cfg.Retry, func(ctx context.Context) error {
		var err error
		vecHits, err = r.store.SearchMessagesByVector(ctx, userID, embedding, r.cfg.NCandidates)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", core.ErrStoreUnavailable, err)
	}
	err = core.Retry(ctx, r.cfg.Retry, func(ctx context.Context) error {
		var err error
		kwHits, err = r.store.SearchMessagesByKeyword(ctx, userID, query, r.cfg.NCandidates)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: keyword search: %v", core.ErrStoreUnavailable, err)
	}

	byID := make(map[string]*scored)
	order := make([]string, 0, len(vecHits)+len(kwHits))
	for _, hit := range vecHits {
		byID[hit.Message.ID] = &scored{
			msg:   hit.Message,
			score: r.cfg.WeightVector * clamp01(hit.Score),
		}
		order = append(order, hit.Message.ID)
	}
	kwWeight := 1 - r.cfg.WeightVector
	for _, hit := range kwHits {
		if existing, ok := byID[hit.Message.ID]; ok {
			existing.score += kwWeight * clamp01(hit.Score)
			continue
		}
		byID[hit.Message.ID] = &scored{
			msg:   hit.Message,
			score: kwWeight * clamp01(hit.Score),
		}
		order = append(order, hit.Message.ID)
	}

	fused := make([]scored, 0, len(order))
	for _, id := range order {
		if s := byID[id]; s.score >= r.cfg.RelevanceThreshold {
			fused = append(fused, *s)
		}
	}
	sort.SliceStable(fused, func(i, j int) bool { return fused[i].score > fused[j].score })
	return fused, nil
}

// expandWindows fetches surrounding conversation context for each hit
// and merges everything into one chronological, de-duplicated sequence.
func (r *Ranker) expandWindows(ctx context.Context, userID string, hits []scored) ([]core.Message, error) {
	seen := make(map[string]struct{})
	var merged []core.Message
	for _, hit := range hits {
		before, after := humanBefore, humanAfter
		if hit.msg.Role == core.RoleAssistant {
			before, after = assistantBefore, assistantAfter
		}

		var window []core.Message
		err := core.Retry(ctx, r.cfg.Retry, func(ctx context.Context) error {
			var err error
			window, err = r.store.FindWindow(ctx, userID, hit.msg.ConversationID, hit.msg.Timestamp, before, after)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("%w: context window: %v", core.ErrStoreUnavailable, err)
		}
		for _, msg := range window {
			if _, ok := seen[msg.ID]; ok {
				continue
			}
			seen[msg.ID] = struct{}{}
			merged = append(merged, msg)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].Timestamp.Equal(merged[j].Timestamp) {
			return merged[i].Timestamp.Before(merged[j].Timestamp)
		}
		return merged[i].ID < merged[j].ID
	})
	return merged, nil
}

// similarMemories returns the top memory nodes by similarity, ranked
// with importance surfaced as effective importance.
func (r *Ranker) similarMemories(ctx context.Context, userID string, embedding []float32) ([]MemoryHit, error) {
	var nodeHits []memory.NodeHit
	err := core.Retry(ctx, r.cfg.Retry, func(ctx context.Context) error {
		var err error
		nodeHits, err = r.store.SearchNodesByVector(ctx, userID, embedding, memoryTopK)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: memory search: %v", core.ErrStoreUnavailable, err)
	}

	hits := make([]MemoryHit, 0, len(nodeHits))
	for _, hit := range nodeHits {
		hits = append(hits, MemoryHit{
			Content:    hit.Node.Content,
			Summary:    hit.Node.Summary,
			Similarity: clamp01(hit.Similarity),
			Importance: hit.Node.EffectiveImportance(),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	return hits, nil
}

func (r *Ranker) embed(ctx context.Context, text string) ([]float32, error) {
	var embedding []float32
	err := core.Retry(ctx, r.cfg.Retry, func(ctx context.Context) error {
		var err error
		embedding, err = r.embedder.Embed(ctx, text)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: query embedding: %v", core.ErrOracleUnavailable, err)
	}
	if want := r.embedder.Dimensions(); want > 0 && len(embedding) != want {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d", core.ErrDimensionMismatch, len(embedding), want)
	}
	return embedding, nil
}

func (r *Ranker) summarize(ctx context.Context, messages []core.Message) (string, error) {
	if r.summarizer == nil {
		return "", fmt.Errorf("%w: no summarizer configured", core.ErrOracleUnavailable)
	}
	var summary string
	err := core.Retry(ctx, r.cfg.Retry, func(ctx context.Context) error {
		var err error
		summary, err = r.summarizer.Summarize(ctx, messages)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: summarize: %v", core.ErrOracleUnavailable, err)
	}
	return summary, nil
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
