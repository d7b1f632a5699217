// Package chat exposes the turn pipeline over HTTP: a whole-response
// endpoint, an SSE streaming endpoint, a websocket streaming endpoint, and
// a transcript read endpoint.
package chat

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/officeai/privacy-gateway/internal/service/ai"
	chatservice "github.com/officeai/privacy-gateway/internal/service/chat"
	"github.com/officeai/privacy-gateway/internal/service/deident"
	"github.com/officeai/privacy-gateway/internal/storage"
	"github.com/officeai/privacy-gateway/pkg/utils"
)

// Handler serves the chat routes.
type Handler struct {
	orch *chatservice.Orchestrator
}

// New creates the chat handler.
func New(orch *chatservice.Orchestrator) *Handler {
	return &Handler{orch: orch}
}

// RegisterRoutes mounts the chat endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleTurn)
	r.Get("/chat/stream", h.handleStream)
	r.Get("/conversations/{conversationID}/messages", h.handleTranscript)
}

// handleTurn runs one whole-response turn.
func (h *Handler) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req chatservice.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.orch.Converse(r.Context(), req)
	if err != nil {
		status, msg := classifyError(err)
		utils.RespondError(w, status, msg)
		return
	}

	utils.RespondJSON(w, http.StatusOK, result)
}

// streamEvent is one SSE frame of a streaming turn.
type streamEvent struct {
	Event   string                  `json:"event"`
	Content string                  `json:"content,omitempty"`
	Result  *chatservice.TurnResult `json:"result,omitempty"`
	Error   string                  `json:"error,omitempty"`
}

// handleStream runs one streaming turn over Server-Sent Events. Parameters
// arrive as query values so plain EventSource clients can connect.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	query := r.URL.Query()
	debug, _ := strconv.ParseBool(query.Get("debug"))
	req := chatservice.TurnRequest{
		TenantID:       query.Get("tenantId"),
		UserID:         query.Get("userId"),
		ConversationID: query.Get("conversationId"),
		Message:        query.Get("message"),
		Debug:          debug,
	}
	if req.Message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	utils.SetupSSEHeaders(w)
	utils.SendSSEChunk(w, flusher, streamEvent{Event: "start"})

	result, err := h.orch.ConverseStream(r.Context(), req, func(delta string) error {
		if err := r.Context().Err(); err != nil {
			return err
		}
		utils.SendSSEChunk(w, flusher, streamEvent{Event: "delta", Content: delta})
		return nil
	})
	if err != nil {
		log.Printf("[chat] streaming turn failed: %v", err)
		utils.SendSSEChunk(w, flusher, streamEvent{Event: "error", Error: err.Error()})
		return
	}

	utils.SendSSEChunk(w, flusher, streamEvent{Event: "result", Result: result})
	utils.SendSSEChunk(w, flusher, streamEvent{Event: "end"})
}

// handleTranscript returns a conversation's persisted messages.
func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	messages, err := h.orch.Transcript(conversationID)
	if err != nil {
		status, msg := classifyError(err)
		utils.RespondError(w, status, msg)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"conversationId": conversationID,
		"messages":       messages,
	})
}

// classifyError maps pipeline failures to HTTP statuses.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, chatservice.ErrMessageRequired),
		errors.Is(err, chatservice.ErrIdentityRequired):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, storage.ErrConversationNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, deident.ErrDetectionUnavailable),
		errors.Is(err, ai.ErrModelUnavailable):
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusInternalServerError, "turn failed"
	}
}
