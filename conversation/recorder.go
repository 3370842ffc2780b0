// Package conversation records the message stream and feeds substantial
// human messages into memory consolidation. Recording is the write path
// retrieval depends on: every message is persisted with an embedding
// when the oracle cooperates, and without one when it does not.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/becomeliminal/mnemo-go-sdk/core"
	"github.com/becomeliminal/mnemo-go-sdk/memory"
)

// minConsolidationLength filters out short acknowledgements ("ok",
// "thanks") that carry no memory-worthy content.
const minConsolidationLength = 30

// Consolidator folds text into a user's memory set.
type Consolidator interface {
	Consolidate(ctx context.Context, userID, text string) (*memory.Result, error)
}

// Recorder persists conversation messages and triggers consolidation
// for substantial human input.
type Recorder struct {
	store    memory.Store
	embedder memory.Embedder
	engine   Consolidator
	logger   *zap.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// NewRecorder creates a recorder. The consolidator may be nil, in which
// case messages are stored but never consolidated.
func NewRecorder(store memory.Store, embedder memory.Embedder, engine Consolidator, opts ...Option) *Recorder {
	r := &Recorder{
		store:    store,
		embedder: embedder,
		engine:   engine,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add persists one message and, for human messages long enough to carry
// memory-worthy content, consolidates it. Embedding failure downgrades
// the message to keyword-only search instead of losing it; consolidation
// failure is logged, never surfaced, because the message itself was
// handled.
func (r *Recorder) Add(ctx context.Context, userID, conversationID string, role core.Role, text string) (core.Message, error) {
	userID = strings.ToLower(strings.TrimSpace(userID))
	text = strings.TrimSpace(text)
	if userID == "" {
		return core.Message{}, fmt.Errorf("%w: user id is required", core.ErrValidation)
	}
	if conversationID == "" {
		return core.Message{}, fmt.Errorf("%w: conversation id is required", core.ErrValidation)
	}
	if text == "" {
		return core.Message{}, fmt.Errorf("%w: message text is required", core.ErrValidation)
	}
	if role != core.RoleHuman && role != core.RoleAssistant {
		return core.Message{}, fmt.Errorf("%w: unknown role %q", core.ErrValidation, role)
	}

	msg := core.Message{
		ID:             uuid.New().String(),
		UserID:         userID,
		ConversationID: conversationID,
		Role:           role,
		Text:           text,
		Timestamp:      time.Now().UTC(),
	}

	embedding, err := r.embedder.Embed(ctx, text)
	if err != nil {
		r.logger.Warn("message stored without embedding",
			zap.String("user_id", userID),
			zap.String("message_id", msg.ID),
			zap.Error(err))
	} else {
		msg.Embedding = embedding
	}

	if err := r.store.InsertMessage(ctx, msg); err != nil {
		return core.Message{}, fmt.Errorf("%w: insert message: %v", core.ErrStoreUnavailable, err)
	}

	if r.engine != nil && role == core.RoleHuman && len(text) > minConsolidationLength {
		content := fmt.Sprintf("From conversation %s: %s", conversationID, text)
		if _, err := r.engine.Consolidate(ctx, userID, content); err != nil {
			r.logger.Warn("memory consolidation skipped",
				zap.String("user_id", userID),
				zap.String("message_id", msg.ID),
				zap.Error(err))
		}
	}

	return msg, nil
}

// History returns a conversation's messages in chronological order.
func (r *Recorder) History(ctx context.Context, userID, conversationID string) ([]core.Message, error) {
	userID = strings.ToLower(strings.TrimSpace(userID))
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", core.ErrValidation)
	}
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation id is required", core.ErrValidation)
	}
	msgs, err := r.store.ListMessages(ctx, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", core.ErrStoreUnavailable, err)
	}
	return msgs, nil
}
