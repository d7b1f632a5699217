package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	chathandler "github.com/officeai/privacy-gateway/internal/handler/chat"
	middlewarePkg "github.com/officeai/privacy-gateway/internal/middleware"
	chatservice "github.com/officeai/privacy-gateway/internal/service/chat"
	"github.com/officeai/privacy-gateway/pkg/utils"
)

// NewRouter wires HTTP routes to the turn pipeline. A nil orchestrator
// (model not configured) leaves the health route up and answers chat
// requests with 503.
func NewRouter(orch *chatservice.Orchestrator) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		if orch == nil {
			api.HandleFunc("/*", func(w http.ResponseWriter, _ *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "chat unavailable: model not configured")
			})
			return
		}

		chathandler.New(orch).RegisterRoutes(api)
		chathandler.NewWebSocketHandler(orch).RegisterRoutes(api)
	})

	return r
}
