package chat

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	chatservice "github.com/officeai/privacy-gateway/internal/service/chat"
)

// WebSocketHandler streams turns over a websocket: the client sends one
// turn request per text frame, the server answers with delta frames
// followed by a result frame.
type WebSocketHandler struct {
	orch     *chatservice.Orchestrator
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates the websocket transport.
func NewWebSocketHandler(orch *chatservice.Orchestrator) *WebSocketHandler {
	return &WebSocketHandler{
		orch: orch,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/chat/ws", h.handleWebSocket)
}

// wsEvent is one outbound websocket frame.
type wsEvent struct {
	Event   string                  `json:"event"`
	Content string                  `json:"content,omitempty"`
	Result  *chatservice.TurnResult `json:"result,omitempty"`
	Error   string                  `json:"error,omitempty"`
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		var req chatservice.TurnRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read failed: %v", err)
			}
			return
		}

		result, err := h.orch.ConverseStream(r.Context(), req, func(delta string) error {
			return conn.WriteJSON(wsEvent{Event: "delta", Content: delta})
		})
		if err != nil {
			_ = conn.WriteJSON(wsEvent{Event: "error", Error: err.Error()})
			continue
		}

		if err := conn.WriteJSON(wsEvent{Event: "result", Result: result}); err != nil {
			log.Printf("[ws] write failed: %v", err)
			return
		}
	}
}
