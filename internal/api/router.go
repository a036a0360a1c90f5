package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
)

type RouterConfig struct {
	Appointments *appointment.Service
	Availability *availability.Service
	Storage      Pinger
	StorageName  string
	Redis        *redis.Client
	Logger       *zap.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Storage, cfg.StorageName, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	sh := &scheduleHandlers{appointments: cfg.Appointments, availability: cfg.Availability, log: log}
	ah := &appointmentHandlers{svc: cfg.Appointments, log: log}

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)

		r.Route("/doctors/{doctorID}", func(r chi.Router) {
			r.Get("/slots", sh.availableSlots)

			r.Get("/weekly-schedule", sh.getWeeklySchedule)
			r.Put("/weekly-schedule", sh.putWeeklySchedule)
			r.Post("/weekly-schedule/initialize", sh.initializeWeeklySchedule)

			r.Get("/day-offs", sh.listDayOffs)
			r.Put("/day-offs/{date}", sh.putDayOff)
			r.Delete("/day-offs/{date}", sh.deleteDayOff)

			r.Get("/exceptional-schedules", sh.listExceptionalSchedules)
			r.Put("/exceptional-schedules/{date}", sh.putExceptionalSchedule)
			r.Delete("/exceptional-schedules/{date}", sh.deleteExceptionalSchedule)
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", ah.book)
			r.Get("/", ah.list)
			r.Get("/upcoming", ah.upcoming)
			r.Get("/today", ah.today)
			r.Get("/stats", ah.stats)
			r.Patch("/status", ah.bulkStatus)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", ah.get)
				r.Post("/cancel", ah.cancel)
				r.Post("/reschedule", ah.reschedule)
				r.Post("/complete", ah.complete)
				r.Post("/status", ah.status)
				r.Get("/history", ah.history)
			})
		})
	})

	return r
}
