package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incubator/pkg/session"
)

type stubOrchestrator struct {
	startErr error
	turnErr  error

	lastConvID   string
	lastMessage  string
	lastHint     string
	lastCheckout string
}

func (s *stubOrchestrator) StartConversation(context.Context) (*session.Record, string, error) {
	if s.startErr != nil {
		return nil, "", s.startErr
	}
	return session.NewRecord("conv-abc"), "hello there", nil
}

func (s *stubOrchestrator) HandleTurn(_ context.Context, conversationID, message string) (string, error) {
	if s.turnErr != nil {
		return "", s.turnErr
	}
	s.lastConvID, s.lastMessage = conversationID, message
	return "reply: " + message, nil
}

func (s *stubOrchestrator) Resume(_ context.Context, conversationID, statusHint, checkoutID string) (string, error) {
	s.lastConvID, s.lastHint, s.lastCheckout = conversationID, statusHint, checkoutID
	return "welcome back", nil
}

func decodeChat(t *testing.T, rr *httptest.ResponseRecorder) chatResponse {
	t.Helper()
	var out chatResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	return out
}

func TestHandleStart(t *testing.T) {
	srv := NewServer(":0", &stubOrchestrator{})

	rr := httptest.NewRecorder()
	srv.handleStart(rr, httptest.NewRequest(http.MethodPost, "/start", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	out := decodeChat(t, rr)
	assert.Equal(t, "conv-abc", out.ConversationID)
	assert.Equal(t, "hello there", out.Reply)
}

func TestHandleStartRejectsGet(t *testing.T) {
	srv := NewServer(":0", &stubOrchestrator{})

	rr := httptest.NewRecorder()
	srv.handleStart(rr, httptest.NewRequest(http.MethodGet, "/start", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHandleChat(t *testing.T) {
	stub := &stubOrchestrator{}
	srv := NewServer(":0", stub)

	body := `{"conversation_id":"conv-1","message":"hi"}`
	rr := httptest.NewRecorder()
	srv.handleChat(rr, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "reply: hi", decodeChat(t, rr).Reply)
	assert.Equal(t, "conv-1", stub.lastConvID)
}

func TestHandleChatValidation(t *testing.T) {
	srv := NewServer(":0", &stubOrchestrator{})

	cases := []struct {
		name string
		body string
	}{
		{"bad json", `{not json`},
		{"missing id", `{"message":"hi"}`},
		{"missing message", `{"conversation_id":"conv-1"}`},
		{"blank message", `{"conversation_id":"conv-1","message":"   "}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			srv.handleChat(rr, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(tc.body)))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestHandleChatInternalError(t *testing.T) {
	srv := NewServer(":0", &stubOrchestrator{turnErr: errors.New("boom")})

	body := `{"conversation_id":"conv-1","message":"hi"}`
	rr := httptest.NewRecorder()
	srv.handleChat(rr, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body)))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	var out errorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	assert.NotContains(t, out.Error, "boom")
}

func TestHandleResume(t *testing.T) {
	stub := &stubOrchestrator{}
	srv := NewServer(":0", stub)

	rr := httptest.NewRecorder()
	srv.handleResume(rr, httptest.NewRequest(http.MethodGet,
		"/resume?conv_id=conv-9&status=success&checkout_session=cs_test_123", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "welcome back", decodeChat(t, rr).Reply)
	assert.Equal(t, "conv-9", stub.lastConvID)
	assert.Equal(t, "success", stub.lastHint)
	assert.Equal(t, "cs_test_123", stub.lastCheckout)
}

func TestHandleResumeRequiresConvID(t *testing.T) {
	srv := NewServer(":0", &stubOrchestrator{})

	rr := httptest.NewRecorder()
	srv.handleResume(rr, httptest.NewRequest(http.MethodGet, "/resume?status=success", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleHealth(t *testing.T) {
	srv := NewServer(":0", &stubOrchestrator{})

	rr := httptest.NewRecorder()
	srv.handleHealth(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"ok"`)
}
