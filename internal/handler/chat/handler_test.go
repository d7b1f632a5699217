package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	"github.com/officeai/privacy-gateway/internal/redact"
	"github.com/officeai/privacy-gateway/internal/service/ai"
	"github.com/officeai/privacy-gateway/internal/service/billing"
	chatservice "github.com/officeai/privacy-gateway/internal/service/chat"
	"github.com/officeai/privacy-gateway/internal/service/session"
	"github.com/officeai/privacy-gateway/internal/storage"
)

type passthroughMasker struct{}

func (passthroughMasker) Mask(_ context.Context, text string) (string, redact.Mapping, error) {
	return text, redact.Mapping{}, nil
}

type echoInvoker struct {
	reply    string
	chunks   []string
	err      error
	noStream bool
}

func (e *echoInvoker) StreamingEnabled() bool { return !e.noStream }

func (e *echoInvoker) Send(_ context.Context, sess *session.Session, message string) (string, ai.Usage, error) {
	sess.AppendUser(message)
	if e.err != nil {
		return "", ai.Usage{}, e.err
	}
	sess.AppendAssistant(e.reply)
	return e.reply, ai.Usage{InputTokens: 3, OutputTokens: 2}, nil
}

func (e *echoInvoker) SendStream(_ context.Context, sess *session.Session, message string) (*schema.StreamReader[*schema.Message], error) {
	if e.err != nil {
		return nil, e.err
	}
	sess.AppendUser(message)
	msgs := make([]*schema.Message, 0, len(e.chunks))
	for _, c := range e.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func (e *echoInvoker) Finalize(sess *session.Session, chunks []*schema.Message) (string, ai.Usage, error) {
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(c.Content)
	}
	sess.AppendAssistant(sb.String())
	return sb.String(), ai.Usage{InputTokens: 3, OutputTokens: 2}, nil
}

func setupRouter(t *testing.T, invoker chatservice.Invoker) *chi.Mux {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("storage.Open err: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	orch := chatservice.NewOrchestrator(
		passthroughMasker{},
		invoker,
		store,
		session.NewStore(),
		billing.New(nil, "gemini-2.5-flash"),
	)

	r := chi.NewRouter()
	handler := New(orch)
	handler.RegisterRoutes(r)
	NewWebSocketHandler(orch).RegisterRoutes(r)
	return r
}

func TestTurnEndpoint(t *testing.T) {
	r := setupRouter(t, &echoInvoker{reply: "hi there"})

	payload, _ := json.Marshal(map[string]any{
		"tenantId": "t1", "userId": "u1", "conversationId": "42", "message": "hello",
	})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var result chatservice.TurnResult
	if err := json.Unmarshal(resp.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.BotMessage != "hi there" || result.ConversationID != "42" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestTurnEndpointInvalidBody(t *testing.T) {
	r := setupRouter(t, &echoInvoker{reply: "ok"})

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("not json"))
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestTurnEndpointMissingMessage(t *testing.T) {
	r := setupRouter(t, &echoInvoker{reply: "ok"})

	payload := []byte(`{"tenantId":"t1","userId":"u1"}`)
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(payload))
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestTurnEndpointModelDown(t *testing.T) {
	r := setupRouter(t, &echoInvoker{err: ai.ErrModelUnavailable})

	payload := []byte(`{"tenantId":"t1","userId":"u1","conversationId":"42","message":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(payload))
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}
}

func TestTranscriptUnknownConversation(t *testing.T) {
	r := setupRouter(t, &echoInvoker{reply: "ok"})

	req := httptest.NewRequest(http.MethodGet, "/conversations/missing/messages", nil)
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestStreamEndpoint(t *testing.T) {
	r := setupRouter(t, &echoInvoker{chunks: []string{"one ", "two"}})

	req := httptest.NewRequest(http.MethodGet, "/chat/stream?tenantId=t1&userId=u1&conversationId=42&message=count", nil)
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if got := resp.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type: %q", got)
	}
	body := resp.Body.String()
	if !strings.Contains(body, `"event":"delta"`) {
		t.Fatalf("no delta events in stream: %s", body)
	}
	if !strings.Contains(body, `"event":"result"`) || !strings.Contains(body, "one two") {
		t.Fatalf("missing final result: %s", body)
	}
}

func TestStreamEndpointWithStreamingDisabled(t *testing.T) {
	r := setupRouter(t, &echoInvoker{reply: "one two", noStream: true})

	req := httptest.NewRequest(http.MethodGet, "/chat/stream?tenantId=t1&userId=u1&conversationId=42&message=count", nil)
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	body := resp.Body.String()
	if strings.Count(body, `"event":"delta"`) != 1 {
		t.Fatalf("expected the whole reply as a single delta: %s", body)
	}
	if !strings.Contains(body, `"content":"one two"`) {
		t.Fatalf("whole reply missing from delta: %s", body)
	}
	if !strings.Contains(body, `"event":"result"`) {
		t.Fatalf("missing final result: %s", body)
	}
}

func TestStreamEndpointRequiresMessage(t *testing.T) {
	r := setupRouter(t, &echoInvoker{reply: "ok"})

	req := httptest.NewRequest(http.MethodGet, "/chat/stream", nil)
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
