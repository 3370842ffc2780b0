// Package claude implements the importance/summary oracle on top of the
// Anthropic API. It rates content importance on a 1-10 scale, produces
// one-sentence summaries for memory nodes, and generates structured
// conversation summaries for retrieval results.
package claude

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/becomeliminal/mnemo-go-sdk/core"
	"github.com/becomeliminal/mnemo-go-sdk/memory"
)

const (
	defaultModel   = "claude-sonnet-4-20250514"
	defaultTimeout = 30 * time.Second
)

// Oracle calls Claude for importance assessment and summarization. All
// calls pass through a circuit breaker so a degraded API fails fast
// instead of stalling every consolidation.
type Oracle struct {
	client  *anthropic.Client
	model   string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// Option configures the oracle.
type Option func(*Oracle)

// WithModel overrides the Claude model.
func WithModel(model string) Option {
	return func(o *Oracle) { o.model = model }
}

// WithTimeout bounds each API call.
func WithTimeout(d time.Duration) Option {
	return func(o *Oracle) { o.timeout = d }
}

// WithLogger sets a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Oracle) { o.logger = l }
}

// New creates an oracle backed by the given Anthropic client.
func New(client *anthropic.Client, opts ...Option) *Oracle {
	o := &Oracle{
		client:  client,
		model:   defaultModel,
		timeout: defaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "claude-oracle",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o.logger.Warn("oracle circuit breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return o
}

// Assess rates the content's long-term importance (1-10) and produces a
// one-sentence summary. Two focused prompts work better than one
// combined prompt for small contents.
func (o *Oracle) Assess(ctx context.Context, content string) (memory.Assessment, error) {
	ratingPrompt := "On a scale of 1-10, rate the importance of remembering this information long-term. " +
		"Consider factors like: uniqueness of information, actionability, personal significance, " +
		"and whether it contains key facts or decisions. Respond with just a number.\n\n" +
		"Text to evaluate: " + content

	ratingText, err := o.complete(ctx, ratingPrompt)
	if err != nil {
		return memory.Assessment{}, fmt.Errorf("importance rating: %w", err)
	}
	importance := parseRating(ratingText)

	summaryPrompt := "Create a one-sentence summary of the key information in this text. " +
		"Be specific and concise:\n\n" + content

	summary, err := o.complete(ctx, summaryPrompt)
	if err != nil {
		return memory.Assessment{}, fmt.Errorf("summary: %w", err)
	}

	return memory.Assessment{
		Importance: importance,
		Summary:    strings.TrimSpace(summary),
	}, nil
}

// Summarize produces a structured summary of a conversation excerpt.
func (o *Oracle) Summarize(ctx context.Context, messages []core.Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages to summarize")
	}

	var transcript strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&transcript, "[%s] %s\n", msg.Role, msg.Text)
	}

	prompt := "You are an advanced AI assistant skilled in analyzing and summarizing conversation histories.\n" +
		"Given the following conversation, generate a structured summary that captures key points, " +
		"topics discussed, decisions made, and relevant insights.\n\n" +
		"Output format:\n" +
		"- Topic: briefly describe the conversation's purpose.\n" +
		"- Key Discussion Points: outline the main topics covered.\n" +
		"- Decisions & Takeaways: highlight key conclusions or next steps.\n" +
		"- Unresolved Questions (if any): mention pending queries.\n\n" +
		"Conversation:\n" + transcript.String()

	summary, err := o.complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("conversation summary: %w", err)
	}
	return strings.TrimSpace(summary), nil
}

// complete sends a single-turn prompt through the circuit breaker and
// returns the concatenated text blocks.
func (o *Oracle) complete(ctx context.Context, prompt string) (string, error) {
	out, err := o.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()

		resp, err := o.client.Messages.New(callCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(o.model),
			MaxTokens: 1024,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return nil, err
		}

		var text string
		for _, block := range resp.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// parseRating extracts a 1-10 integer from a model response, tolerating
// prose around the number. Unparseable responses fall back to the
// midpoint rating.
func parseRating(text string) int {
	var digits strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' || r == '.' {
			digits.WriteRune(r)
		} else if digits.Len() > 0 {
			break
		}
	}

	rating, err := strconv.ParseFloat(digits.String(), 64)
	if err != nil {
		return 5
	}
	if rating < 1 {
		return 1
	}
	if rating > 10 {
		return 10
	}
	return int(rating)
}
