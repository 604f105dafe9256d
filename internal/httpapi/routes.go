package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/JustinCarm001/MLAApp-sub001/internal/registry"
	"github.com/JustinCarm001/MLAApp-sub001/internal/ws"
)

func SetupRoutes(reg *registry.Registry, clock clockwork.Clock, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	api := NewAPI(reg, log)

	r.Get("/healthz", Healthz)
	r.Get("/arena/types", api.ArenaTypes)

	r.Route("/games", func(r chi.Router) {
		r.Post("/", api.CreateGame)
		r.Get("/{id}", api.GetGame)
		r.Post("/{id}/start", api.StartSync)
		r.Post("/{id}/stop", api.StopGame)
		r.Post("/{id}/abort", api.AbortGame)
		r.Post("/{id}/chunks", api.SubmitChunk)
	})

	r.Get("/ws", ws.Handler(reg, clock, log))
	return r
}
