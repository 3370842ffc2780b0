package core

import (
	"math"
	"time"
)

// Role identifies who produced a conversation message.
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in a user's conversation log.
// Messages are immutable once written; the memory engine reads them but
// never deletes them.
type Message struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`

	// Embedding is the message's vector, fixed dimension per deployment.
	// Empty when the embedding oracle was unavailable at write time; such
	// messages remain keyword-searchable.
	Embedding []float32 `json:"-"`
}

// Importance bounds for memory nodes. Reinforcement saturates at
// MaxImportance, decay floors at MinImportance.
const (
	MinImportance = 0.1
	MaxImportance = 1.0
)

// MemoryNode is one consolidated memory belonging to a user. At most
// Config.MaxDepth nodes are live per user at any time; the consolidation
// engine creates, reinforces, merges, decays, and prunes them.
type MemoryNode struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Content      string     `json:"content"`
	Summary      string     `json:"summary"`
	Importance   float64    `json:"importance"`
	AccessCount  int        `json:"access_count"`
	CreatedAt    time.Time  `json:"created_at"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`

	Embedding []float32 `json:"-"`
}

// EffectiveImportance combines stored importance with access frequency:
// importance * (1 + ln(access_count + 1)). It is derived at ranking time
// and never stored, so reinforcement history amplifies capacity ranking
// without mutating the base score.
func (n *MemoryNode) EffectiveImportance() float64 {
	return n.Importance * (1 + math.Log(float64(n.AccessCount)+1))
}

// ClampImportance forces a raw importance value into the valid range.
func ClampImportance(v float64) float64 {
	if v < MinImportance {
		return MinImportance
	}
	if v > MaxImportance {
		return MaxImportance
	}
	return v
}
