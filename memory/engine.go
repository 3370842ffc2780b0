package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/becomeliminal/mnemo-go-sdk/core"
)

// Outcome classifies what a consolidation call did to the user's memory
// set.
type Outcome int

const (
	// OutcomeSkipped means the memory update was skipped because an
	// oracle was unavailable. The caller's message handling is unaffected;
	// the accompanying error wraps core.ErrOracleUnavailable.
	OutcomeSkipped Outcome = iota

	// OutcomeCreated means a new memory node was created.
	OutcomeCreated

	// OutcomeReinforced means an existing near-duplicate node was
	// strengthened.
	OutcomeReinforced

	// OutcomeMerged means the input was absorbed into a moderately
	// similar existing node.
	OutcomeMerged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeReinforced:
		return "reinforced"
	case OutcomeMerged:
		return "merged"
	default:
		return "skipped"
	}
}

// Result reports what Consolidate did.
type Result struct {
	Outcome Outcome

	// NodeID is the node created, reinforced, or merged into. Empty when
	// skipped.
	NodeID string

	// Similarity is the best-match similarity that drove classification,
	// 0 when the user had no nodes.
	Similarity float64

	// Pruned counts nodes removed by capacity enforcement.
	Pruned int
}

// Engine folds new conversational content into a user's bounded memory
// set. Calls for the same user are serialized internally; callers never
// need their own locking.
type Engine struct {
	store    Store
	embedder Embedder
	assessor Assessor
	cfg      Config
	logger   *zap.Logger
	locks    *userLocks
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets a structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates a consolidation engine.
func NewEngine(store Store, embedder Embedder, assessor Assessor, cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	e := &Engine{
		store:    store,
		embedder: embedder,
		assessor: assessor,
		cfg:      cfg,
		logger:   zap.NewNop(),
		locks:    newUserLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Consolidate folds text into the user's memory set: it reinforces a
// near-duplicate node, merges into a moderately similar one, or creates
// a new node, then decays untouched siblings and enforces the capacity
// bound.
//
// Oracle failures degrade to OutcomeSkipped with an error wrapping
// core.ErrOracleUnavailable: the message was handled, only the memory
// update was skipped. Store failures are fatal and wrap
// core.ErrStoreUnavailable.
func (e *Engine) Consolidate(ctx context.Context, userID, text string) (*Result, error) {
	userID = strings.ToLower(strings.TrimSpace(userID))
	text = strings.TrimSpace(text)
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", core.ErrValidation)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", core.ErrValidation)
	}

	mu := e.locks.acquire(userID)
	defer mu.Unlock()

	embedding, err := e.embed(ctx, text)
	if err != nil {
		e.logger.Warn("consolidation skipped: embedding failed",
			zap.String("user_id", userID), zap.Error(err))
		return &Result{Outcome: OutcomeSkipped}, err
	}

	best, found, err := e.bestMatch(ctx, userID, embedding)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	if found {
		result.Similarity = best.Similarity
	}
	switch {
	case found && best.Similarity >= e.cfg.ReinforceThreshold:
		err = e.reinforce(ctx, &best.Node)
		result.Outcome = OutcomeReinforced
	case found && best.Similarity >= e.cfg.MergeThreshold:
		err = e.merge(ctx, &best.Node, text)
		result.Outcome = OutcomeMerged
	default:
		var node core.MemoryNode
		node, err = e.create(ctx, userID, text, embedding)
		best = &NodeHit{Node: node}
		result.Outcome = OutcomeCreated
	}
	if err != nil {
		if isOracle(err) {
			e.logger.Warn("consolidation skipped: oracle failed",
				zap.String("user_id", userID), zap.Error(err))
			return &Result{Outcome: OutcomeSkipped}, err
		}
		return nil, err
	}
	result.NodeID = best.Node.ID

	if err := e.decaySiblings(ctx, userID, best.Node.ID); err != nil {
		return nil, err
	}

	pruned, err := e.enforceCapacity(ctx, userID)
	if err != nil {
		return nil, err
	}
	result.Pruned = pruned

	e.logger.Info("consolidated",
		zap.String("user_id", userID),
		zap.String("outcome", result.Outcome.String()),
		zap.String("node_id", result.NodeID),
		zap.Float64("similarity", result.Similarity),
		zap.Int("pruned", result.Pruned))
	return result, nil
}

// embed calls the embedding oracle with bounded retries and verifies the
// dimension invariant before the vector can reach the store.
func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	var embedding []float32
	err := core.Retry(ctx, e.cfg.Retry, func(ctx context.Context) error {
		var err error
		embedding, err = e.embedder.Embed(ctx, text)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %v", core.ErrOracleUnavailable, err)
	}
	if len(embedding) != e.embedder.Dimensions() {
		return nil, fmt.Errorf("%w: got %d, want %d",
			core.ErrDimensionMismatch, len(embedding), e.embedder.Dimensions())
	}
	return embedding, nil
}

// bestMatch returns the user's most similar existing node, if any.
func (e *Engine) bestMatch(ctx context.Context, userID string, embedding []float32) (*NodeHit, bool, error) {
	var hits []NodeHit
	err := core.Retry(ctx, e.cfg.Retry, func(ctx context.Context) error {
		var err error
		hits, err = e.store.SearchNodesByVector(ctx, userID, embedding, 1)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: search nodes: %v", core.ErrStoreUnavailable, err)
	}
	if len(hits) == 0 {
		return nil, false, nil
	}
	return &hits[0], true, nil
}

// reinforce strengthens a near-duplicate node: one more access, a capped
// importance boost, a fresh last-accessed stamp.
func (e *Engine) reinforce(ctx context.Context, node *core.MemoryNode) error {
	node.AccessCount++
	node.Importance = core.ClampImportance(node.Importance * e.cfg.ReinforcementFactor)
	now := time.Now().UTC()
	node.LastAccessed = &now

	if err := e.updateNode(ctx, *node); err != nil {
		return err
	}
	return nil
}

// merge absorbs text into an existing node: the contents are combined
// (verbatim repeats dropped), the oracle re-assesses importance and
// summary, and the node is re-embedded. No second node is ever created.
func (e *Engine) merge(ctx context.Context, node *core.MemoryNode, text string) error {
	combined := mergeContent(node.Content, text)

	assessment, err := e.assess(ctx, combined)
	if err != nil {
		return err
	}
	embedding, err := e.embed(ctx, combined)
	if err != nil {
		return err
	}

	node.Content = combined
	node.Summary = assessment.Summary
	node.Importance = core.ClampImportance(float64(assessment.Importance) / 10.0)
	node.Embedding = embedding
	now := time.Now().UTC()
	node.LastAccessed = &now

	return e.updateNode(ctx, *node)
}

// create assesses importance and summary for new content and inserts a
// fresh node with a zero access count.
func (e *Engine) create(ctx context.Context, userID, text string, embedding []float32) (core.MemoryNode, error) {
	assessment, err := e.assess(ctx, text)
	if err != nil {
		return core.MemoryNode{}, err
	}

	now := time.Now().UTC()
	node := core.MemoryNode{
		ID:          uuid.New().String(),
		UserID:      userID,
		Content:     text,
		Summary:     assessment.Summary,
		Importance:  core.ClampImportance(float64(assessment.Importance) / 10.0),
		AccessCount: 0,
		CreatedAt:   now,
		Embedding:   embedding,
	}

	err = core.Retry(ctx, e.cfg.Retry, func(ctx context.Context) error {
		return e.store.InsertNode(ctx, node)
	})
	if err != nil {
		return core.MemoryNode{}, fmt.Errorf("%w: insert node: %v", core.ErrStoreUnavailable, err)
	}
	return node, nil
}

// decaySiblings models gradual forgetting: every node the current event
// did not touch loses a fraction of its importance, floored at the
// minimum. The touched node is excluded.
func (e *Engine) decaySiblings(ctx context.Context, userID, touchedID string) error {
	nodes, err := e.listNodes(ctx, userID)
	if err != nil {
		return err
	}
	for _, node := range nodes {
		if node.ID == touchedID {
			continue
		}
		decayed := node.Importance * e.cfg.DecayFactor
		if decayed < core.MinImportance {
			decayed = core.MinImportance
		}
		if decayed == node.Importance {
			continue
		}
		node.Importance = decayed
		if err := e.updateNode(ctx, node); err != nil {
			return err
		}
	}
	return nil
}

// enforceCapacity prunes the lowest effective-importance nodes until the
// user is back at MaxDepth. Ties break oldest-first.
func (e *Engine) enforceCapacity(ctx context.Context, userID string) (int, error) {
	nodes, err := e.listNodes(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(nodes) <= e.cfg.MaxDepth {
		return 0, nil
	}

	// Ascending by effective importance, oldest first on ties.
	sort.Slice(nodes, func(i, j int) bool {
		ei, ej := nodes[i].EffectiveImportance(), nodes[j].EffectiveImportance()
		if ei != ej {
			return ei < ej
		}
		return nodes[i].CreatedAt.Before(nodes[j].CreatedAt)
	})

	pruned := 0
	for _, victim := range nodes[:len(nodes)-e.cfg.MaxDepth] {
		err := core.Retry(ctx, e.cfg.Retry, func(ctx context.Context) error {
			return e.store.DeleteNode(ctx, userID, victim.ID)
		})
		if err != nil {
			return pruned, fmt.Errorf("%w: delete node: %v", core.ErrStoreUnavailable, err)
		}
		e.logger.Info("pruned memory node",
			zap.String("user_id", userID),
			zap.String("node_id", victim.ID),
			zap.Float64("effective_importance", victim.EffectiveImportance()))
		pruned++
	}

	// Should be unreachable with correct locking; detect and report
	// rather than silently tolerate.
	remaining, err := e.listNodes(ctx, userID)
	if err != nil {
		return pruned, err
	}
	if len(remaining) > e.cfg.MaxDepth {
		e.logger.Error("capacity invariant violated after pruning",
			zap.String("user_id", userID),
			zap.Int("count", len(remaining)),
			zap.Int("max_depth", e.cfg.MaxDepth))
		return pruned, fmt.Errorf("%w: %d nodes after pruning (max %d)",
			core.ErrCapacityViolation, len(remaining), e.cfg.MaxDepth)
	}
	return pruned, nil
}

func (e *Engine) assess(ctx context.Context, content string) (Assessment, error) {
	var assessment Assessment
	err := core.Retry(ctx, e.cfg.Retry, func(ctx context.Context) error {
		var err error
		assessment, err = e.assessor.Assess(ctx, content)
		return err
	})
	if err != nil {
		return Assessment{}, fmt.Errorf("%w: assess: %v", core.ErrOracleUnavailable, err)
	}
	return assessment, nil
}

func (e *Engine) listNodes(ctx context.Context, userID string) ([]core.MemoryNode, error) {
	var nodes []core.MemoryNode
	err := core.Retry(ctx, e.cfg.Retry, func(ctx context.Context) error {
		var err error
		nodes, err = e.store.ListNodes(ctx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list nodes: %v", core.ErrStoreUnavailable, err)
	}
	return nodes, nil
}

func (e *Engine) updateNode(ctx context.Context, node core.MemoryNode) error {
	err := core.Retry(ctx, e.cfg.Retry, func(ctx context.Context) error {
		return e.store.UpdateNode(ctx, node)
	})
	if err != nil {
		return fmt.Errorf("%w: update node: %v", core.ErrStoreUnavailable, err)
	}
	return nil
}

// mergeContent concatenates new text onto existing content, dropping the
// new text when it already appears verbatim.
func mergeContent(existing, text string) string {
	if strings.Contains(existing, text) {
		return existing
	}
	return existing + "\n\n" + text
}

func isOracle(err error) bool {
	return errors.Is(err, core.ErrOracleUnavailable)
}
