// Package api provides the medfit HTTP API: session sign in, disease search
// and a per-session chat with the medical assistant.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/medfit/pkg/auth"
	"github.com/papercomputeco/medfit/pkg/conversation"
	"github.com/papercomputeco/medfit/pkg/disease"
	"github.com/papercomputeco/medfit/pkg/llm"
	"github.com/papercomputeco/medfit/pkg/search"
)

const sessionLocal = "session"

// Deps are the collaborators the server routes to.
type Deps struct {
	Querier         disease.Querier
	Auth            *auth.Manager
	NewConversation func() *conversation.Conversation

	// MCPHandler is mounted at /mcp when Config.MCP is set.
	MCPHandler http.Handler
}

// Server is the medfit HTTP API. Each signed-in session owns one conversation,
// which is dropped when the session ends.
type Server struct {
	config Config
	deps   Deps
	logger *zap.Logger
	server *fiber.App

	mu            sync.Mutex
	conversations map[string]*conversation.Conversation
}

// SignInRequest is the body of POST /api/auth/signin.
type SignInRequest struct {
	Token string `json:"token"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse describes a session conversation.
type ChatResponse struct {
	Awaiting bool                `json:"awaiting"`
	Turns    []conversation.Turn `json:"turns"`
}

// SearchResponse is the result of GET /api/diseases.
type SearchResponse struct {
	Criteria disease.Criteria `json:"criteria"`
	Count    int              `json:"count"`
	Diseases []disease.Record `json:"diseases"`
}

// New creates a new Server.
func New(config Config, deps Deps, logger *zap.Logger) (*Server, error) {
	if deps.Querier == nil {
		return nil, errors.New("api: a disease querier is required")
	}
	if deps.Auth == nil {
		return nil, errors.New("api: an auth manager is required")
	}
	if deps.NewConversation == nil {
		return nil, errors.New("api: a conversation factory is required")
	}
	if config.MCP && deps.MCPHandler == nil {
		return nil, errors.New("api: MCP enabled without a handler")
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:        config,
		deps:          deps,
		logger:        logger,
		server:        app,
		conversations: make(map[string]*conversation.Conversation),
	}
	deps.Auth.OnSignOut(s.dropConversation)

	s.routes(app)

	return s, nil
}

func (s *Server) routes(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(map[string]string{"status": "ok"})
	})

	app.Post("/api/auth/signin", s.handleSignIn)
	app.Post("/api/auth/signout", s.requireSession, s.handleSignOut)
	app.Get("/api/auth/session", s.requireSession, s.handleSession)

	app.Get("/api/diseases", s.requireSession, s.handleSearch)

	app.Get("/api/chat", s.requireSession, s.handleTranscript)
	app.Post("/api/chat", s.requireSession, s.handleChat)

	if s.config.MCP {
		app.All("/mcp", s.requireSession, adaptor.HTTPHandler(s.deps.MCPHandler))
	}
}

// Run starts the server on the configured listening address.
func (s *Server) Run() error {
	s.logger.Info("starting api server",
		zap.String("listen", s.config.ListenAddr),
		zap.Bool("mcp", s.config.MCP),
	)

	return s.server.Listen(s.config.ListenAddr)
}

// Shutdown stops accepting connections and waits for in-flight requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.ShutdownWithContext(ctx)
}

// Close shuts the server down immediately.
func (s *Server) Close() error {
	return s.server.Shutdown()
}

// Sessions returns the number of sessions holding a conversation.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

// requireSession resolves the bearer token of the request into a session.
func (s *Server) requireSession(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	id, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(id) == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(llm.ErrorResponse{Error: "missing bearer session"})
	}

	sess, ok := s.deps.Auth.Lookup(strings.TrimSpace(id))
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(llm.ErrorResponse{Error: "session not found"})
	}

	c.Locals(sessionLocal, sess)
	return c.Next()
}

func sessionOf(c *fiber.Ctx) auth.Session {
	sess, _ := c.Locals(sessionLocal).(auth.Session)
	return sess
}

func (s *Server) handleSignIn(c *fiber.Ctx) error {
	var req SignInRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		s.logger.Debug("failed to parse sign in request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
	}

	sess, err := s.deps.Auth.SignIn(strings.TrimSpace(req.Token))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(llm.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(sess)
}

func (s *Server) handleSignOut(c *fiber.Ctx) error {
	sess := sessionOf(c)
	if err := s.deps.Auth.SignOut(sess.ID); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleSession(c *fiber.Ctx) error {
	return c.JSON(sessionOf(c))
}

// handleSearch runs one catalog query. Debouncing belongs to interactive
// clients; every request here is answered directly.
func (s *Server) handleSearch(c *fiber.Ctx) error {
	sortBy, err := disease.ParseSortKey(c.Query("sort"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: err.Error()})
	}
	order, err := disease.ParseDirection(c.Query("order"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: err.Error()})
	}

	criteria := disease.Criteria{Term: c.Query("q"), SortBy: sortBy, Direction: order}.Normalize()

	start := time.Now()
	records, err := s.deps.Querier.Query(c.UserContext(), criteria)
	if err != nil {
		s.logger.Error("error fetching diseases",
			zap.String("term", criteria.Term),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: search.FailureMessage})
	}
	if records == nil {
		records = []disease.Record{}
	}

	s.logger.Debug("disease search",
		zap.String("term", criteria.Term),
		zap.String("sort_by", string(criteria.SortBy)),
		zap.String("order", string(criteria.Direction)),
		zap.Int("count", len(records)),
		zap.Duration("duration", time.Since(start)),
	)

	return c.JSON(SearchResponse{Criteria: criteria, Count: len(records), Diseases: records})
}

func (s *Server) handleTranscript(c *fiber.Ctx) error {
	conv, ok := s.conversation(sessionOf(c).ID)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(llm.ErrorResponse{Error: "session not found"})
	}
	return c.JSON(ChatResponse{Awaiting: conv.IsAwaitingResponse(), Turns: conv.Transcript()})
}

// handleChat submits a question to the session conversation. The reply is
// generated in the background and the request returns 202 unless wait=true,
// in which case it blocks until the assistant turn is appended.
func (s *Server) handleChat(c *fiber.Ctx) error {
	var req ChatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
	}

	sess := sessionOf(c)
	conv, ok := s.conversation(sess.ID)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(llm.ErrorResponse{Error: "session not found"})
	}

	// The exchange outlives the request when wait is not set.
	done, err := conv.Submit(context.Background(), req.Message)
	switch {
	case errors.Is(err, conversation.ErrEmptyInput):
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: err.Error()})
	case errors.Is(err, conversation.ErrAwaitingResponse):
		return c.Status(fiber.StatusConflict).JSON(llm.ErrorResponse{Error: err.Error()})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "internal error"})
	}

	s.logger.Debug("chat message submitted",
		zap.String("session", sess.ID),
		zap.Int("message_len", len(req.Message)),
	)

	if !c.QueryBool("wait") {
		return c.Status(fiber.StatusAccepted).JSON(ChatResponse{Awaiting: true, Turns: conv.Transcript()})
	}

	var timeout <-chan time.Time
	if s.config.ChatWaitTimeout > 0 {
		timer := time.NewTimer(s.config.ChatWaitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-done:
		return c.JSON(ChatResponse{Awaiting: conv.IsAwaitingResponse(), Turns: conv.Transcript()})
	case <-timeout:
		return c.Status(fiber.StatusAccepted).JSON(ChatResponse{Awaiting: true, Turns: conv.Transcript()})
	}
}

// conversation returns the conversation of a live session, creating it on
// first use. The session is checked again under s.mu: sign-out removes the
// session before its hook takes s.mu, so no conversation outlives its session.
func (s *Server) conversation(sessionID string) (*conversation.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.conversations[sessionID]; ok {
		return conv, true
	}
	if _, ok := s.deps.Auth.Lookup(sessionID); !ok {
		return nil, false
	}
	conv := s.deps.NewConversation()
	s.conversations[sessionID] = conv
	return conv, true
}

func (s *Server) dropConversation(sess auth.Session) {
	s.mu.Lock()
	delete(s.conversations, sess.ID)
	s.mu.Unlock()
}
