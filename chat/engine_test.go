package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/becomeliminal/mnemo-go-sdk/core"
	"github.com/becomeliminal/mnemo-go-sdk/retrieval"
)

func TestRunValidation(t *testing.T) {
	e := NewEngine(nil)

	_, err := e.Run(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = e.Run(context.Background(), &Input{UserID: "u1", UserMessage: "  "})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = e.Run(context.Background(), &Input{UserMessage: "hello"})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestFormatEnrichment(t *testing.T) {
	assert.Empty(t, formatEnrichment(nil))
	assert.Empty(t, formatEnrichment(&retrieval.Result{NoMatches: true}))

	res := &retrieval.Result{
		SimilarMemories: []retrieval.MemoryHit{
			{Summary: "prefers dark mode", Content: "unused when summary set"},
			{Content: "raw content fallback"},
		},
		ConversationSummary: "they discussed editor settings",
	}
	got := formatEnrichment(res)
	assert.Contains(t, got, "REMEMBERED CONTEXT ABOUT THIS USER:")
	assert.Contains(t, got, "- prefers dark mode")
	assert.Contains(t, got, "- raw content fallback")
	assert.Contains(t, got, "RELEVANT PAST CONVERSATION:\nthey discussed editor settings")
}

func TestFormatEnrichmentSummaryOnly(t *testing.T) {
	res := &retrieval.Result{ConversationSummary: "summary only"}
	got := formatEnrichment(res)
	assert.Contains(t, got, "summary only")
}

func TestHistoryToParams(t *testing.T) {
	history := []core.Message{
		{Role: core.RoleHuman, Text: "hi"},
		{Role: core.RoleAssistant, Text: "hello"},
		{Role: core.RoleHuman, Text: "how are you"},
	}
	params := historyToParams(history)
	assert.Len(t, params, 3)
}
