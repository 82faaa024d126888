package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/careloop/clinic-waitlist/internal/waitlist"
)

type RouterConfig struct {
	Service            *waitlist.Service
	PgPool             *pgxpool.Pool
	Redis              *redis.Client
	Env                string
	Version            string
	PriorityDisplayCap int
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := NewHandlers(cfg.Service, cfg.PriorityDisplayCap)

	r.Route("/waitlist", func(r chi.Router) {
		r.Get("/", h.listWaitlist)
		r.Post("/{id}/priority", h.adjustPriority)
		r.Get("/{id}/candidates", h.findCandidates)
		r.Post("/{id}/contact", h.contact)
		r.Delete("/{id}", h.removeEntry)
	})

	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", h.createBooking)
		r.Post("/{id}/confirm", h.confirmBooking)
	})

	return r
}
