package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/clinic-appointment-lifecycle/internal/lifecycle"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/payment"
	"github.com/hackgods/clinic-appointment-lifecycle/pkg/logging"
)

// Service is the lifecycle surface the HTTP layer exposes.
type Service interface {
	GetAvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) lifecycle.Result
	ReserveSlot(ctx context.Context, req lifecycle.ReserveRequest) lifecycle.Result
	BookAppointment(ctx context.Context, actor uuid.UUID, req lifecycle.BookRequest) lifecycle.Result
	ApproveAppointment(ctx context.Context, id, actor uuid.UUID, reason string) lifecycle.Result
	DeclineAppointment(ctx context.Context, id, actor uuid.UUID, reason string) lifecycle.Result
	RescheduleAppointment(ctx context.Context, id, actor uuid.UUID, newDateTime time.Time, reason string) lifecycle.Result
	CancelAppointment(ctx context.Context, id, actor uuid.UUID, reason string) lifecycle.Result
	ConfirmAppointment(ctx context.Context, id, actor uuid.UUID) lifecycle.Result
	StartAppointment(ctx context.Context, id, actor uuid.UUID) lifecycle.Result
	CompleteAppointment(ctx context.Context, id, actor uuid.UUID, req lifecycle.CompleteRequest) lifecycle.Result
	MarkNoShow(ctx context.Context, id, actor uuid.UUID, notes string) lifecycle.Result
	ProcessPayment(ctx context.Context, id, actor uuid.UUID, req payment.Request) lifecycle.Result
	GetAppointment(ctx context.Context, id uuid.UUID) lifecycle.Result
	ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) lifecycle.Result
	ListNotifications(ctx context.Context, recipientID uuid.UUID, limit int) lifecycle.Result
	MarkNotificationRead(ctx context.Context, id uuid.UUID) lifecycle.Result
}

type RouterConfig struct {
	Service  Service
	Health   *HealthHandler
	Logger   *logging.Logger
	Location *time.Location
	// Metrics serves /metrics; promhttp.Handler() when nil.
	Metrics http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Metrics == nil {
		cfg.Metrics = promhttp.Handler()
	}
	if cfg.Health == nil {
		cfg.Health = NewHealthHandler("", "")
	}
	svc := cfg.Service

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/health/live", cfg.Health.Liveness)
	r.Get("/health/ready", cfg.Health.Readiness)
	r.Handle("/metrics", cfg.Metrics)

	r.Get("/doctors/{doctorID}/slots", availableSlotsHandler(svc, cfg.Location))
	r.Post("/reservations", reserveSlotHandler(svc))

	r.Post("/appointments", bookAppointmentHandler(svc))
	r.Get("/patients/{patientID}/appointments", listPatientAppointmentsHandler(svc))
	r.Route("/appointments/{id}", func(r chi.Router) {
		r.Get("/", getAppointmentHandler(svc))
		r.Post("/approve", reasonHandler(svc.ApproveAppointment))
		r.Post("/decline", reasonHandler(svc.DeclineAppointment))
		r.Post("/cancel", reasonHandler(svc.CancelAppointment))
		r.Post("/reschedule", rescheduleHandler(svc))
		r.Post("/confirm", confirmHandler(svc))
		r.Post("/start", startHandler(svc))
		r.Post("/complete", completeHandler(svc))
		r.Post("/no-show", noShowHandler(svc))
		r.Post("/payment", paymentHandler(svc))
	})

	r.Get("/notifications", listNotificationsHandler(svc))
	r.Post("/notifications/{id}/read", markNotificationReadHandler(svc))

	return r
}
