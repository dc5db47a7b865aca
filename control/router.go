package control

import (
	"context"
	"net/http"
	"time"

	"ticket-reservation-bot/engine"
	"ticket-reservation-bot/selector"
	"ticket-reservation-bot/ticketapi"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Engine is the part of the worker pool manager the controller drives.
type Engine interface {
	State() engine.State
	Progress() (spawned, target int)
	Stats() engine.Counters
	Settings() engine.Settings
	Configure(s engine.Settings) error
	Start(ctx context.Context, bearerToken string) error
	Stop()
	Priorities() *selector.PriorityList
}

// Catalog serves event lookups for the controller.
type Catalog interface {
	FetchEvent(ctx context.Context, eventID string, timeout time.Duration) (*ticketapi.EventSnapshot, error)
	SearchProducts(ctx context.Context, text string, timeout time.Duration) ([]ticketapi.ProductSummary, error)
}

const DefaultLookupTimeout = 5 * time.Second

type Handler struct {
	engine        Engine
	catalog       Catalog
	lookupTimeout time.Duration
}

func NewHandler(eng Engine, cat Catalog, lookupTimeout time.Duration) *Handler {
	if lookupTimeout <= 0 {
		lookupTimeout = DefaultLookupTimeout
	}
	return &Handler{engine: eng, catalog: cat, lookupTimeout: lookupTimeout}
}

// NewRouter mounts the controller API under /api.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.State)
		r.Get("/stats", h.Stats)
		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.PutSettings)
		r.Post("/start", h.Start)
		r.Post("/stop", h.Stop)

		r.Route("/priorities", func(r chi.Router) {
			r.Get("/", h.ListPriorities)
			r.Post("/", h.AddPriority)
			r.Post("/prune", h.PrunePriorities)
			r.Route("/{rank}", func(r chi.Router) {
				r.Put("/", h.SetPriority)
				r.Delete("/", h.RemovePriority)
				r.Post("/up", h.MovePriorityUp)
				r.Post("/down", h.MovePriorityDown)
			})
		})

		if h.catalog != nil {
			r.Get("/products", h.SearchProducts)
			r.Get("/products/{id}", h.PreviewProduct)
		}
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("requestId", middleware.GetReqID(r.Context())).
			Msg("control: request served")
	})
}
