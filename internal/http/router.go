package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterConfig struct {
	CookieName     string
	SessionTTL     time.Duration
	RequestTimeout time.Duration
}

func NewRouter(h *CartHandler, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(SessionMiddleware(cfg.CookieName, cfg.SessionTTL))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Get("/summary", h.Summary)
			r.Post("/items", h.AddItem)
			r.Post("/items/batch", h.AddItems)
			r.Delete("/items", h.RemoveItems)
			r.Get("/items/{id}", h.GetItem)
			r.Delete("/items/{id}", h.RemoveItem)
		})
		r.Post("/session/logout", h.Logout)
	})

	return r
}
