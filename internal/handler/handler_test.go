package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"finpro-go/internal/middleware"
	"finpro-go/internal/model"
	"finpro-go/internal/service"
	"finpro-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubChat struct {
	res *service.ChatResult
	err error
	got service.ChatRequest
}

func (s *stubChat) Chat(_ context.Context, req service.ChatRequest) (*service.ChatResult, error) {
	s.got = req
	return s.res, s.err
}

type stubFeedback struct {
	res      *service.FeedbackResult
	err      error
	username string
	got      service.FeedbackRequest
}

func (s *stubFeedback) Submit(_ context.Context, username string, req service.FeedbackRequest) (*service.FeedbackResult, error) {
	s.username, s.got = username, req
	return s.res, s.err
}

type stubTurns struct {
	views    []model.TurnView
	err      error
	cleared  [2]string
	listedBy string
}

func (s *stubTurns) ListTurns(_ context.Context, username string) ([]model.TurnView, error) {
	s.listedBy = username
	return s.views, s.err
}

func (s *stubTurns) ClearHistory(_ context.Context, username, sessionID string) error {
	s.cleared = [2]string{username, sessionID}
	return s.err
}

type stubUsers struct {
	user  *model.User
	token string
	err   error
}

func (s *stubUsers) Register(context.Context, service.RegisterRequest) (*model.User, error) {
	return s.user, s.err
}

func (s *stubUsers) Login(context.Context, string, string) (*service.LoginResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &service.LoginResult{User: s.user, Token: s.token}, nil
}

func (s *stubUsers) GetProfile(context.Context, string) (*model.User, error) {
	return s.user, s.err
}

type stubSearch struct {
	passages []model.Passage
	err      error
	opts     service.SearchOptions
}

func (s *stubSearch) HybridSearch(_ context.Context, _ string, _ []string, opts service.SearchOptions) ([]model.Passage, error) {
	s.opts = opts
	return s.passages, s.err
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type fixture struct {
	chat     *stubChat
	feedback *stubFeedback
	turns    *stubTurns
	users    *stubUsers
	search   *stubSearch
	engine   *gin.Engine
	bearer   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	jwt := token.NewJWTManager("secret", 1)
	tok, err := jwt.GenerateToken(7, "alice", "s1")
	require.NoError(t, err)

	f := &fixture{
		chat:     &stubChat{},
		feedback: &stubFeedback{},
		turns:    &stubTurns{},
		users:    &stubUsers{},
		search:   &stubSearch{},
		engine:   gin.New(),
		bearer:   "Bearer " + tok,
	}
	chatHandler := NewChatHandler(f.chat, f.feedback)
	convHandler := NewConversationHandler(f.turns)
	userHandler := NewUserHandler(f.users)

	api := f.engine.Group("/api/v1")
	api.POST("/users/register", userHandler.Register)
	api.POST("/users/login", userHandler.Login)
	authed := api.Group("", middleware.AuthMiddleware(jwt))
	authed.POST("/chat", chatHandler.Chat)
	authed.POST("/chat/feedback", chatHandler.Feedback)
	authed.POST("/chat/clear_history", convHandler.ClearHistory)
	authed.GET("/chat/user_messages", convHandler.UserMessages)
	authed.POST("/search", NewSearchHandler(f.search).HybridSearch)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, auth bool) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", f.bearer)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func TestChatReturnsTurn(t *testing.T) {
	f := newFixture(t)
	f.chat.res = &service.ChatResult{
		SessionID: "s1", Response: "Revenue grew 15%.", MessageID: "t1",
		Metrics: model.Metrics{"response.toxicity": 0.01},
		Sources: []model.SourcePassage{{PageContent: "c", Metadata: map[string]any{"source": "doc_A", "page": 2}}},
	}

	code, env := f.do(t, http.MethodPost, "/api/v1/chat",
		`{"input":"What was revenue?","username":"alice","session_id":"s1","paths":["doc_A"]}`, true)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"doc_A"}, f.chat.got.Paths)

	var data struct {
		SessionID string             `json:"session_id"`
		Response  string             `json:"response"`
		MessageID string             `json:"message_id"`
		Metrics   map[string]float64 `json:"metrics"`
		Sources   []struct {
			PageContent string         `json:"page_content"`
			Metadata    map[string]any `json:"metadata"`
		} `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "t1", data.MessageID)
	assert.Equal(t, "Revenue grew 15%.", data.Response)
	require.Len(t, data.Sources, 1)
	assert.Equal(t, "doc_A", data.Sources[0].Metadata["source"])
}

func TestChatErrorMapping(t *testing.T) {
	body := `{"input":"q","username":"alice","session_id":"s1","paths":["doc_A"]}`
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: bad", service.ErrValidation), http.StatusBadRequest},
		{service.ErrSessionBusy, http.StatusConflict},
		{fmt.Errorf("retrieve: %w: %w", service.ErrExternalService, errors.New("es down")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		f := newFixture(t)
		f.chat.err = tc.err
		code, env := f.do(t, http.MethodPost, "/api/v1/chat", body, true)
		assert.Equal(t, tc.status, code, tc.err.Error())
		assert.Equal(t, tc.status, env.Code)
		assert.NotContains(t, env.Message, "es down")
	}
}

func TestChatRejectsOtherUsernameAndMissingToken(t *testing.T) {
	f := newFixture(t)
	code, _ := f.do(t, http.MethodPost, "/api/v1/chat", `{"input":"q","username":"bob","session_id":"s1","paths":["doc_A"]}`, true)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = f.do(t, http.MethodPost, "/api/v1/chat", `{"input":"q","username":"alice","session_id":"s1","paths":["doc_A"]}`, false)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = f.do(t, http.MethodPost, "/api/v1/chat", `{"username":"alice"}`, true)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestChatRejectsForeignSession(t *testing.T) {
	f := newFixture(t)
	f.chat.res = &service.ChatResult{SessionID: "s1"}

	code, env := f.do(t, http.MethodPost, "/api/v1/chat",
		`{"input":"q","username":"alice","session_id":"bob-session","paths":["doc_A"]}`, true)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, http.StatusForbidden, env.Code)
	assert.Empty(t, f.chat.got.SessionID, "chat service must not be reached")

	code, _ = f.do(t, http.MethodPost, "/api/v1/chat",
		`{"input":"q","username":"alice","session_id":"s1","paths":["doc_A"]}`, true)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "s1", f.chat.got.SessionID)
}

func TestFeedbackUsesTokenUser(t *testing.T) {
	f := newFixture(t)
	f.feedback.res = &service.FeedbackResult{Status: service.FeedbackAlreadySubmitted, Message: "Feedback already submitted or no changes made."}

	code, env := f.do(t, http.MethodPost, "/api/v1/chat/feedback", `{"message_id":"t1","feedback_type":"thumbs_up","score":1}`, true)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Feedback already submitted or no changes made.", env.Message)
	assert.Equal(t, "alice", f.feedback.username)
	assert.Equal(t, "t1", f.feedback.got.MessageID)

	f.feedback.err = service.ErrTurnNotFound
	code, env = f.do(t, http.MethodPost, "/api/v1/chat/feedback", `{"message_id":"t9","feedback_type":"thumbs_up","score":0}`, true)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Message not found", env.Message)
}

func TestClearHistoryAndUserMessages(t *testing.T) {
	f := newFixture(t)
	code, env := f.do(t, http.MethodPost, "/api/v1/chat/clear_history", `{"username":"alice","session_id":"s1"}`, true)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Conversation history cleared successfully", env.Message)
	assert.Equal(t, [2]string{"alice", "s1"}, f.turns.cleared)

	f.turns.err = service.ErrSessionNotFound
	code, env = f.do(t, http.MethodPost, "/api/v1/chat/clear_history", `{"username":"alice","session_id":"nope"}`, true)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "User or session not found", env.Message)

	f.turns.err = nil
	f.turns.views = []model.TurnView{{ID: "t1", Input: "q", Output: "a"}}
	code, env = f.do(t, http.MethodGet, "/api/v1/chat/user_messages?username=alice", "", true)
	require.Equal(t, http.StatusOK, code)
	var views []model.TurnView
	require.NoError(t, json.Unmarshal(env.Data, &views))
	require.Len(t, views, 1)
	assert.Equal(t, "t1", views[0].ID)

	code, _ = f.do(t, http.MethodGet, "/api/v1/chat/user_messages?username=bob", "", true)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestRegisterAndLogin(t *testing.T) {
	f := newFixture(t)
	f.users.user = &model.User{ID: 1, Username: "alice", Name: "Alice", SessionID: "s1"}
	f.users.token = "jwt"

	code, env := f.do(t, http.MethodPost, "/api/v1/users/register", `{"username":"alice","name":"Alice","email":"a@b.c","password":"pw"}`, false)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"session_id":"s1"`)

	code, env = f.do(t, http.MethodPost, "/api/v1/users/login", `{"username":"alice","password":"pw"}`, false)
	require.Equal(t, http.StatusOK, code)
	var data map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, map[string]string{"username": "alice", "name": "Alice", "session_id": "s1", "token": "jwt"}, data)

	f.users.err = fmt.Errorf("login: %w: %w", service.ErrUnauthenticated, errors.New("invalid credentials"))
	code, _ = f.do(t, http.MethodPost, "/api/v1/users/login", `{"username":"alice","password":"bad"}`, false)
	assert.Equal(t, http.StatusUnauthorized, code)

	f.users.err = fmt.Errorf("register: %w: %w", service.ErrValidation, service.ErrUsernameTaken)
	code, _ = f.do(t, http.MethodPost, "/api/v1/users/register", `{"username":"alice","password":"pw"}`, false)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSearchPassesOptions(t *testing.T) {
	f := newFixture(t)
	f.search.passages = []model.Passage{{ID: "p1", Source: "doc_A", Page: 1, Content: "c"}}

	code, env := f.do(t, http.MethodPost, "/api/v1/search", `{"query":"capex","paths":["doc_A"],"top_k":3,"lexical_weight":1,"semantic_weight":0}`, true)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, f.search.opts.TopK)
	require.NotNil(t, f.search.opts.LexicalWeight)
	assert.Equal(t, 1.0, *f.search.opts.LexicalWeight)
	assert.Contains(t, string(env.Data), `"page_content":"c"`)
}
