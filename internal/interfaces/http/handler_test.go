package http_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegate/internal/entities"
	"telegate/internal/infrastructure"
	gwhttp "telegate/internal/interfaces/http"
	"telegate/internal/testutil"
	"telegate/internal/usecases"
)

const (
	srvPhone  = "+3712000001"
	srvSecret = "handler-test-secret"
)

type serverFixture struct {
	router   *gin.Engine
	registry *infrastructure.SessionRegistry
	factory  *testutil.FakeFactory
	accounts *testutil.FakeAccountStore
}

func newServer() *serverFixture {
	gin.SetMode(gin.TestMode)

	registry := infrastructure.NewSessionRegistry()
	accounts := testutil.NewFakeAccountStore()
	factory := testutil.NewFakeFactory()
	sessions := infrastructure.NewSessionManager(registry, accounts, factory, zerolog.Nop())

	auth := usecases.NewAuthUsecase(testutil.NewFakeUserStore(), srvSecret)
	gateway := usecases.NewGatewayUsecase(sessions, accounts, 12345, "abcdef0123456789", zerolog.Nop())

	router := gin.New()
	gwhttp.SetupRoutes(router, auth, gateway, gwhttp.NewMiddleware(srvSecret), zerolog.Nop())

	return &serverFixture{
		router:   router,
		registry: registry,
		factory:  factory,
		accounts: accounts,
	}
}

func (f *serverFixture) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var parsed map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	}
	return rec, parsed
}

// register creates a user and returns their bearer token.
func (f *serverFixture) register(t *testing.T, username, email string) string {
	t.Helper()
	rec, body := f.do(t, http.MethodPost, "/register", "", gin.H{
		"username": username, "email": email, "password": "secret123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestHealth(t *testing.T) {
	f := newServer()
	rec, body := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestRegisterAndDuplicate(t *testing.T) {
	f := newServer()
	f.register(t, "alice", "alice@example.com")

	rec, body := f.do(t, http.MethodPost, "/register", "", gin.H{
		"username": "alice", "email": "alice@example.com", "password": "secret123",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Username or email already registered", body["error"])
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	f := newServer()
	rec, _ := f.do(t, http.MethodPost, "/register", "", gin.H{
		"username": "alice", "email": "alice@example.com", "password": "123",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginForm(t *testing.T) {
	f := newServer()
	f.register(t, "alice", "alice@example.com")

	form := url.Values{"username": {"alice@example.com"}, "password": {"secret123"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["token"])

	form.Set("password", "wrong")
	req = httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	f := newServer()
	rec, _ := f.do(t, http.MethodGet, "/list_accounts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/list_accounts", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginFlow(t *testing.T) {
	f := newServer()
	token := f.register(t, "alice", "alice@example.com")

	handle := &testutil.FakeTransport{DisplayName: "Alice", SignInErr: entities.ErrVerificationFailed}
	f.factory.Next[srvPhone] = handle

	rec, body := f.do(t, http.MethodPost, "/start_login", token, gin.H{"phone": srvPhone})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "code_sent", body["status"])

	// Wrong code keeps the flow open.
	rec, _ = f.do(t, http.MethodPost, "/complete_login", token, gin.H{"phone": srvPhone, "code": "00000"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, f.registry.IsPending(srvPhone))

	handle.SetSignInErr(nil)
	rec, body = f.do(t, http.MethodPost, "/complete_login", token, gin.H{"phone": srvPhone, "code": "12345"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "Successfully logged in as Alice", body["message"])

	rec, body = f.do(t, http.MethodGet, "/list_accounts", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{srvPhone}, body["accounts"])
}

func TestStartLoginRejectsBadPhone(t *testing.T) {
	f := newServer()
	token := f.register(t, "alice", "alice@example.com")

	rec, _ := f.do(t, http.MethodPost, "/start_login", token, gin.H{"phone": "not-a-phone"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessage(t *testing.T) {
	f := newServer()
	token := f.register(t, "alice", "alice@example.com")
	handle := f.connect(t, &testutil.FakeTransport{Authorized: true})

	rec, body := f.do(t, http.MethodPost, "/send_message", token, gin.H{
		"phone": srvPhone, "recipient": "@bob", "message": "hi",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Message sent successfully", body["message"])
	assert.Equal(t, []string{"@bob"}, handle.SentTo)
}

func TestGetChatsNotConnected(t *testing.T) {
	f := newServer()
	token := f.register(t, "alice", "alice@example.com")

	rec, _ := f.do(t, http.MethodGet, "/get_chats?phone="+url.QueryEscape(srvPhone), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetChatsRevokedInvalidates(t *testing.T) {
	f := newServer()
	token := f.register(t, "alice", "alice@example.com")
	f.connect(t, &testutil.FakeTransport{Authorized: true, DialogsErr: entities.ErrAuthRevoked})

	rec, body := f.do(t, http.MethodGet, "/get_chats?phone="+url.QueryEscape(srvPhone), token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Session is no longer valid. Please log in again.", body["error"])

	rec, body = f.do(t, http.MethodGet, "/list_accounts", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["accounts"])
}

func TestGetMessages(t *testing.T) {
	f := newServer()
	token := f.register(t, "alice", "alice@example.com")
	f.connect(t, &testutil.FakeTransport{
		Authorized: true,
		Messages: []entities.ChatMessage{
			{ID: 7, Text: "hello", Date: "2026-08-29T10:00:00Z", SenderID: 42},
		},
	})

	rec, body := f.do(t, http.MethodGet, "/get_messages?phone="+url.QueryEscape(srvPhone)+"&chat_id=42", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)

	rec, _ = f.do(t, http.MethodGet, "/get_messages?phone="+url.QueryEscape(srvPhone), token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccessToForeignAccountIsDenied(t *testing.T) {
	f := newServer()
	token := f.register(t, "mallory", "mallory@example.com")

	// Handle with no credential row behind it.
	f.registry.PutActive(srvPhone, &testutil.FakeTransport{Authorized: true})

	rec, body := f.do(t, http.MethodGet, "/get_chats?phone="+url.QueryEscape(srvPhone), token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "You don't have access to this account", body["error"])
}

// connect installs an authorized handle with its credential row, as a
// finished login would have left them.
func (f *serverFixture) connect(t *testing.T, handle *testutil.FakeTransport) *testutil.FakeTransport {
	t.Helper()
	f.registry.PutActive(srvPhone, handle)
	f.factory.Artifacts[srvPhone] = true
	require.NoError(t, f.accounts.Upsert(t.Context(), &entities.Account{
		Phone: srvPhone, APIID: 12345, APIHash: "abcdef0123456789",
	}))
	return handle
}
