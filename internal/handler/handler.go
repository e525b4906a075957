// Package handler exposes the promotion engine over HTTP. Requests and
// responses are encoded with go-faster/jx; routing is chi.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cartloop/promo-engine/internal/domain/discount"
	"github.com/cartloop/promo-engine/internal/domain/promo"
)

// Handler holds the promotion engine and the catalog read surface.
type Handler struct {
	engine  *promo.Engine
	catalog discount.Repository
}

// New constructs a Handler.
func New(engine *promo.Engine, catalog discount.Repository) *Handler {
	return &Handler{
		engine:  engine,
		catalog: catalog,
	}
}

// Routes returns the API router. Preview is deliberately separate from
// reserve: storefronts may hit it on every cart edit without consuming
// usage slots.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/promotions", func(r chi.Router) {
		r.Post("/preview", h.Preview)
		r.Post("/reserve", h.Reserve)
		r.Post("/{token}/commit", h.Commit)
		r.Post("/{token}/release", h.Release)
		r.Get("/{token}", h.GetReservation)
	})
	r.Get("/discounts/{code}", h.GetDiscount)

	return r
}
