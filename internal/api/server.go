package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/revive/internal/api/handler"
	mw "github.com/edvin/revive/internal/api/middleware"
	"github.com/edvin/revive/internal/core"
)

// Check is a readiness probe for one dependency.
type Check func(ctx context.Context) error

type Server struct {
	router   chi.Router
	logger   zerolog.Logger
	services *core.Services
	events   handler.Subscriber
	checks   map[string]Check
}

// NewServer builds the admin router. checks are run by /readyz; a nil map
// reports ready unconditionally.
func NewServer(logger zerolog.Logger, services *core.Services, events handler.Subscriber, checks map[string]Check) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		services: services,
		events:   events,
		checks:   checks,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	device := handler.NewDevice(s.services.Device)
	dashboard := handler.NewDashboard(s.services.Dashboard, s.services.Device)
	stream := handler.NewEvents(s.events)
	legacy := handler.NewLegacy(s.services.Device, s.services.Dashboard)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", dashboard.Stats)
		r.Get("/categories", dashboard.Categories)
		r.Get("/events", stream.Stream)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", device.List)
			r.Route("/{mac}", func(r chi.Router) {
				r.Get("/", device.Get)
				r.Delete("/", device.Delete)
				r.Put("/name", device.Rename)
				r.Put("/social-media", device.SetSocialMedia)
				r.Put("/safe-search", device.SetSafeSearch)
				r.Put("/categories/{category}", device.SetCategory)
				r.Put("/bedtime", device.SetBedtime)
				r.Delete("/bedtime", device.ClearBedtime)
				r.Put("/override", device.SetOverride)
				r.Post("/reconcile", device.Reconcile)
			})
		})
	})

	// Address-keyed routes of the original dashboard page.
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/stats", legacy.Stats)
		r.Get("/clients", legacy.Clients)
		r.Post("/toggle-block", legacy.ToggleBlock)
		r.Post("/toggle-safesearch", legacy.ToggleSafeSearch)
		r.Post("/toggle-bedtime", legacy.ToggleBedtime)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := map[string]string{}
	healthy := true
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
