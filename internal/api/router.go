package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinical-scheduling/internal/appointment"
	"github.com/hackgods/clinical-scheduling/internal/tenancy"
)

type AppointmentService interface {
	CreateAppointment(ctx context.Context, tenantID, actorID uuid.UUID, in appointment.CreateInput) (uuid.UUID, error)
	RescheduleAppointment(ctx context.Context, tenantID, actorID, id uuid.UUID, startsAt, endsAt time.Time) error
	CancelAppointment(ctx context.Context, tenantID, actorID, id uuid.UUID) error
	ListAppointments(ctx context.Context, tenantID uuid.UUID, f appointment.ListFilter, page appointment.Page) (appointment.ListResult, error)
	GetAppointment(ctx context.Context, tenantID, id uuid.UUID) (*appointment.Appointment, error)
}

type RouterConfig struct {
	Service        AppointmentService
	PgPool         *pgxpool.Pool
	Redis          *redis.Client
	Tenancy        tenancy.Provider
	Gatherer       prometheus.Gatherer
	Logger         zerolog.Logger
	Env            string
	Version        string
	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	var pg pinger
	if cfg.PgPool != nil {
		pg = cfg.PgPool
	}
	health := NewHealthHandler(pg, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	provider := cfg.Tenancy
	if provider == nil {
		provider = tenancy.HeaderProvider{}
	}

	r.Route("/v1/appointments", func(r chi.Router) {
		r.Use(TenantMiddleware(provider))
		if cfg.RateLimitRPS > 0 {
			r.Use(NewTenantRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware)
		}
		r.Use(TimeoutMiddleware(cfg.RequestTimeout))

		r.Post("/", createAppointmentHandler(cfg.Service))
		r.Get("/", listAppointmentsHandler(cfg.Service))
		r.Get("/{id}", getAppointmentHandler(cfg.Service))
		r.Post("/{id}/reschedule", rescheduleAppointmentHandler(cfg.Service))
		r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Service))
	})

	return r
}
