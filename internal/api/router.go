// Package api serves the read-only query surface over the entity store.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"poolScope/internal/storage"
)

// API holds the handler dependencies.
type API struct {
	store  storage.Reader
	logger *zap.Logger
	now    func() time.Time
}

// New builds the handlers over a store reader.
func New(store storage.Reader, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{store: store, logger: logger.Named("api"), now: time.Now}
}

// Router wires the routes. metrics may be nil.
func (a *API) Router(metrics http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", a.Healthz)
	if metrics != nil {
		r.Mount("/metrics", metrics)
	}

	r.Route("/v1/chains/{chainID}", func(cr chi.Router) {
		cr.Route("/pools/{address}", func(pr chi.Router) {
			pr.Get("/", a.Pool)
			pr.Get("/hours", a.Hours)
			pr.Get("/volume", a.Volume)
		})
		cr.Get("/assets/{address}", a.Asset)
	})
	return r
}
