// Package server exposes the memory system over HTTP and WebSocket:
// conversation recording, memory inspection, hybrid retrieval, and a
// streaming chat endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/becomeliminal/mnemo-go-sdk/chat"
	"github.com/becomeliminal/mnemo-go-sdk/core"
	"github.com/becomeliminal/mnemo-go-sdk/retrieval"
)

// Recorder persists and lists conversation messages.
type Recorder interface {
	Add(ctx context.Context, userID, conversationID string, role core.Role, text string) (core.Message, error)
	History(ctx context.Context, userID, conversationID string) ([]core.Message, error)
}

// Retriever answers hybrid memory queries.
type Retriever interface {
	Retrieve(ctx context.Context, userID, query string) (*retrieval.Result, error)
}

// MemoryLister lists a user's consolidated memory nodes.
type MemoryLister interface {
	ListNodes(ctx context.Context, userID string) ([]core.MemoryNode, error)
}

// Chatter runs one chat turn. Implemented by chat.Engine.
type Chatter interface {
	Run(ctx context.Context, input *chat.Input) (*chat.Output, error)
}

// Server is the HTTP surface over the memory system.
type Server struct {
	recorder  Recorder
	retriever Retriever
	memories  MemoryLister
	chatter   Chatter
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

// Option configures the server.
type Option func(*Server)

// WithChatter enables the /ws streaming chat endpoint.
func WithChatter(c Chatter) Option {
	return func(s *Server) { s.chatter = c }
}

// WithLogger sets a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server over the given collaborators.
func New(recorder Recorder, retriever Retriever, memories MemoryLister, opts ...Option) *Server {
	s := &Server{
		recorder:  recorder,
		retriever: retriever,
		memories:  memories,
		logger:    zap.NewNop(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Demo surface; production deployments restrict origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/memories/{userID}", s.handleListMemories)
	r.Get("/conversations/{conversationID}/messages", s.handleHistory)
	r.Post("/conversation", s.handleAddMessage)
	r.Get("/retrieve_memory", s.handleRetrieve)
	if s.chatter != nil {
		r.Get("/ws", s.handleChat)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// memoryView is the wire shape of a memory node. Effective importance
// is computed at read time so clients see the same ranking the pruner
// uses.
type memoryView struct {
	ID                  string     `json:"id"`
	Content             string     `json:"content"`
	Summary             string     `json:"summary"`
	Importance          float64    `json:"importance"`
	EffectiveImportance float64    `json:"effective_importance"`
	AccessCount         int        `json:"access_count"`
	CreatedAt           time.Time  `json:"created_at"`
	LastAccessed        *time.Time `json:"last_accessed,omitempty"`
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	nodes, err := s.memories.ListNodes(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	views := make([]memoryView, 0, len(nodes))
	for _, node := range nodes {
		views = append(views, memoryView{
			ID:                  node.ID,
			Content:             node.Content,
			Summary:             node.Summary,
			Importance:          node.Importance,
			EffectiveImportance: node.EffectiveImportance(),
			AccessCount:         node.AccessCount,
			CreatedAt:           node.CreatedAt,
			LastAccessed:        node.LastAccessed,
		})
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].EffectiveImportance > views[j].EffectiveImportance
	})

	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"memories": views,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	userID := r.URL.Query().Get("user_id")

	msgs, err := s.recorder.History(r.Context(), userID, conversationID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []core.Message{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"messages":        msgs,
	})
}

type addMessageRequest struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Text           string `json:"text"`
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	var req addMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	msg, err := s.recorder.Add(r.Context(), req.UserID, req.ConversationID, core.Role(req.Role), req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	query := r.URL.Query().Get("query")

	result, err := s.retriever.Retrieve(r.Context(), userID, query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if result.RelatedMessages == nil {
		result.RelatedMessages = []core.Message{}
	}
	if result.SimilarMemories == nil {
		result.SimilarMemories = []retrieval.MemoryHit{}
	}
	s.writeJSON(w, http.StatusOK, result)
}

// chatRequest is one inbound WebSocket chat turn.
type chatRequest struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// chatEvent is one outbound WebSocket frame: streamed "chunk" frames
// followed by a final "done" frame with the full text, or an "error"
// frame.
type chatEvent struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		out, err := s.chatter.Run(r.Context(), &chat.Input{
			UserID:         req.UserID,
			ConversationID: req.ConversationID,
			UserMessage:    req.Message,
			StreamCallback: func(chunk string, done bool) {
				if done || chunk == "" {
					return
				}
				if err := conn.WriteJSON(chatEvent{Type: "chunk", Text: chunk}); err != nil {
					s.logger.Warn("websocket write failed", zap.Error(err))
				}
			},
		})
		if err != nil {
			_ = conn.WriteJSON(chatEvent{Type: "error", Error: err.Error()})
			continue
		}
		if err := conn.WriteJSON(chatEvent{Type: "done", Text: out.Text}); err != nil {
			return
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encoding failed", zap.Error(err))
	}
}

// writeError maps domain sentinels to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrOracleUnavailable), errors.Is(err, core.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
