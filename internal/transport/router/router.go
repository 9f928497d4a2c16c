package router

import (
	"github.com/go-chi/chi/v5"

	"github.com/petmatch/dispatchhub/internal/transport/handler"
)

func NewRouter(h *handler.Handler) chi.Router {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/dispatch", func(r chi.Router) {
			r.Post("/screenshots", h.DispatchScreenshots)
			r.Post("/conversions", h.DispatchConversions)
			r.Post("/crawler", h.TriggerCrawler)
		})
	})

	return r
}
