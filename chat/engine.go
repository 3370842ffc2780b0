// Package chat runs a memory-augmented conversation loop against the
// Claude API: retrieve relevant memories, enrich the system prompt,
// generate a response, and record both sides of the exchange.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"

	"github.com/becomeliminal/mnemo-go-sdk/core"
	"github.com/becomeliminal/mnemo-go-sdk/retrieval"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
)

// DefaultSystemPrompt is used when the caller provides none.
const DefaultSystemPrompt = `You are a helpful assistant with long-term memory of past conversations.

GUIDELINES:
- Be conversational and helpful
- When remembered context is provided, use it naturally; never recite it verbatim
- Never claim to remember something that is not in the provided context`

// Retriever surfaces remembered context for a query.
type Retriever interface {
	Retrieve(ctx context.Context, userID, query string) (*retrieval.Result, error)
}

// Recorder persists a conversation message.
type Recorder interface {
	Add(ctx context.Context, userID, conversationID string, role core.Role, text string) (core.Message, error)
}

// Engine drives the chat loop.
type Engine struct {
	client    *anthropic.Client
	retriever Retriever
	recorder  Recorder
	logger    *zap.Logger
}

// Option configures the engine.
type Option func(*Engine)

// WithRetriever enables memory retrieval before each response.
func WithRetriever(r Retriever) Option {
	return func(e *Engine) { e.retriever = r }
}

// WithRecorder enables conversation recording after each response.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithLogger sets a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a chat engine. Retriever and recorder are optional;
// without them the engine is a plain chat loop.
func NewEngine(client *anthropic.Client, opts ...Option) *Engine {
	e := &Engine{
		client: client,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Input is one chat turn request.
type Input struct {
	UserID         string
	ConversationID string
	UserMessage    string

	// History contains earlier turns of this conversation, oldest first.
	History []core.Message

	// SystemPrompt overrides DefaultSystemPrompt when set.
	SystemPrompt string

	Model     string
	MaxTokens int64

	// StreamCallback receives response text incrementally. The final
	// call has done=true and an empty chunk.
	StreamCallback func(chunk string, done bool)
}

// Output is the engine's reply for one turn.
type Output struct {
	Text string

	// Memories retrieved for this turn, nil when retrieval was disabled
	// or failed.
	Retrieved *retrieval.Result
}

// Run executes one chat turn: retrieve, enrich, generate, record.
// Retrieval and recording failures are logged and the turn proceeds;
// only validation and the model call itself can fail the turn.
func (e *Engine) Run(ctx context.Context, input *Input) (*Output, error) {
	if input == nil || strings.TrimSpace(input.UserMessage) == "" {
		return nil, fmt.Errorf("%w: user message is required", core.ErrValidation)
	}
	if strings.TrimSpace(input.UserID) == "" {
		return nil, fmt.Errorf("%w: user id is required", core.ErrValidation)
	}

	var retrieved *retrieval.Result
	if e.retriever != nil {
		var err error
		retrieved, err = e.retriever.Retrieve(ctx, input.UserID, input.UserMessage)
		if err != nil {
			e.logger.Warn("memory retrieval failed",
				zap.String("user_id", input.UserID), zap.Error(err))
			retrieved = nil
		}
	}

	systemPrompt := input.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	if enrichment := formatEnrichment(retrieved); enrichment != "" {
		systemPrompt += "\n\n" + enrichment
	}

	model := input.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := input.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	messages := historyToParams(input.History)
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(input.UserMessage)))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
	}

	var resp *anthropic.Message
	var err error
	if input.StreamCallback != nil {
		resp, err = e.createMessageStreaming(ctx, params, input.StreamCallback)
	} else {
		resp, err = e.client.Messages.New(ctx, params)
	}
	if err != nil {
		return nil, fmt.Errorf("claude API error: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	if input.StreamCallback != nil {
		input.StreamCallback("", true)
	}

	if e.recorder != nil && input.ConversationID != "" {
		if _, err := e.recorder.Add(ctx, input.UserID, input.ConversationID, core.RoleHuman, input.UserMessage); err != nil {
			e.logger.Warn("failed to record user message",
				zap.String("user_id", input.UserID), zap.Error(err))
		}
		if text != "" {
			if _, err := e.recorder.Add(ctx, input.UserID, input.ConversationID, core.RoleAssistant, text); err != nil {
				e.logger.Warn("failed to record assistant message",
					zap.String("user_id", input.UserID), zap.Error(err))
			}
		}
	}

	return &Output{Text: text, Retrieved: retrieved}, nil
}

// createMessageStreaming handles streaming API calls.
func (e *Engine) createMessageStreaming(ctx context.Context, params anthropic.MessageNewParams, callback func(string, bool)) (*anthropic.Message, error) {
	stream := e.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			e.logger.Debug("stream accumulate error", zap.Error(err))
		}

		switch evt := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := evt.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				callback(delta.Text, false)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return &message, nil
}

// formatEnrichment renders retrieved context as a system prompt section.
func formatEnrichment(res *retrieval.Result) string {
	if res == nil || (len(res.SimilarMemories) == 0 && res.ConversationSummary == "") {
		return ""
	}

	var b strings.Builder
	b.WriteString("REMEMBERED CONTEXT ABOUT THIS USER:")
	for _, mem := range res.SimilarMemories {
		b.WriteString("\n- ")
		if mem.Summary != "" {
			b.WriteString(mem.Summary)
		} else {
			b.WriteString(mem.Content)
		}
	}
	if res.ConversationSummary != "" {
		b.WriteString("\n\nRELEVANT PAST CONVERSATION:\n")
		b.WriteString(res.ConversationSummary)
	}
	return b.String()
}

// historyToParams converts stored messages into API message params.
func historyToParams(history []core.Message) []anthropic.MessageParam {
	params := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, msg := range history {
		switch msg.Role {
		case core.RoleAssistant:
			params = append(params, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Text)))
		default:
			params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text)))
		}
	}
	return params
}
