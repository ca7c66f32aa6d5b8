package lifecycle

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-appointment-lifecycle/internal/appointment"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/metrics"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/notification"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/payment"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/reservation"
	"github.com/hackgods/clinic-appointment-lifecycle/pkg/logging"
)

var lifecycleTracer = otel.Tracer("clinic/lifecycle")

// Result is the envelope every public operation returns. Failures carry a
// stable Kind; nothing is raised past this boundary.
type Result struct {
	Success bool             `json:"success"`
	Kind    appointment.Kind `json:"kind,omitempty"`
	Message string           `json:"message"`
	Payload any              `json:"payload,omitempty"`
}

// Deps are the collaborators the Service sequences.
type Deps struct {
	Repository    appointment.Repository
	Directory     appointment.Directory
	Index         *appointment.Index
	Machine       *appointment.StateMachine
	Reservations  *reservation.Manager
	Payments      *payment.Coordinator
	Dispatcher    *notification.Dispatcher
	Notifications notification.Store
	Clock         appointment.Clock
	IDs           appointment.IDGenerator
	Logger        *logging.Logger
	Metrics       *metrics.LifecycleMetrics
}

type Service struct {
	repo          appointment.Repository
	dir           appointment.Directory
	index         *appointment.Index
	machine       *appointment.StateMachine
	reservations  *reservation.Manager
	payments      *payment.Coordinator
	dispatcher    *notification.Dispatcher
	notifications notification.Store
	clock         appointment.Clock
	ids           appointment.IDGenerator
	logger        *logging.Logger
	metrics       *metrics.LifecycleMetrics
}

func New(d Deps) *Service {
	s := &Service{
		repo:          d.Repository,
		dir:           d.Directory,
		index:         d.Index,
		machine:       d.Machine,
		reservations:  d.Reservations,
		payments:      d.Payments,
		dispatcher:    d.Dispatcher,
		notifications: d.Notifications,
		clock:         d.Clock,
		ids:           d.IDs,
		logger:        d.Logger,
		metrics:       d.Metrics,
	}
	if s.clock == nil {
		s.clock = appointment.SystemClock{}
	}
	if s.ids == nil {
		s.ids = appointment.UUIDGenerator{}
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	if s.machine == nil {
		s.machine = appointment.NewStateMachine(s.clock)
	}
	if s.dispatcher == nil {
		s.dispatcher = notification.NewDispatcher(notification.DispatcherConfig{
			Store:   s.notifications,
			IDs:     s.ids,
			Clock:   s.clock,
			Logger:  s.logger,
			Metrics: s.metrics,
		})
	}
	return s
}

type ReserveRequest struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	DateTime time.Time `json:"date_time"`
}

type BookRequest struct {
	HoldToken string               `json:"hold_token"`
	PatientID uuid.UUID            `json:"patient_id"`
	DoctorID  uuid.UUID            `json:"doctor_id"`
	DateTime  time.Time            `json:"date_time"`
	Duration  int                  `json:"duration"`
	Type      appointment.Type     `json:"type"`
	Priority  appointment.Priority `json:"priority"`
	Reason    string               `json:"reason"`
	// RequiresManagerApproval defaults to true when omitted.
	RequiresManagerApproval *bool `json:"requires_manager_approval,omitempty"`
}

type CompleteRequest struct {
	Duration       int    `json:"duration"`
	Notes          string `json:"notes"`
	FollowUpNeeded bool   `json:"follow_up_needed"`
}

func (s *Service) GetAvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) Result {
	return s.run(ctx, "get_available_slots", func(ctx context.Context) (string, any, error) {
		sched, err := s.index.GetAvailableSlots(ctx, doctorID, date)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%d slots", len(sched.Slots)), sched, nil
	})
}

// ReserveSlot grants a short-lived hold on a free slot. Concurrent callers for
// the same slot get exactly one winner.
func (s *Service) ReserveSlot(ctx context.Context, req ReserveRequest) Result {
	return s.run(ctx, "reserve_slot", func(ctx context.Context) (string, any, error) {
		if req.DoctorID == uuid.Nil {
			return "", nil, appointment.Invalid("doctor_id is required")
		}
		if req.DateTime.IsZero() {
			return "", nil, appointment.Invalid("date_time is required")
		}
		if !req.DateTime.After(s.clock.Now()) {
			return "", nil, appointment.Invalid("date_time must be in the future")
		}
		slot := int(s.index.Granularity() / time.Minute)
		if err := s.index.CheckSlot(ctx, req.DoctorID, req.DateTime, slot, uuid.Nil); err != nil {
			s.metrics.ObserveReservation("unavailable")
			return "", nil, err
		}

		hold, err := s.reservations.Reserve(ctx, req.DoctorID, req.DateTime)
		if err != nil {
			s.metrics.ObserveReservation(string(appointment.KindOf(err)))
			return "", nil, err
		}
		s.metrics.ObserveReservation("won")
		return "slot reserved", hold, nil
	})
}

// BookAppointment persists a new appointment for a held slot. The hold is
// released whether or not the booking succeeds.
func (s *Service) BookAppointment(ctx context.Context, actor uuid.UUID, req BookRequest) Result {
	return s.run(ctx, "book", func(ctx context.Context) (string, any, error) {
		if req.DoctorID == uuid.Nil || req.PatientID == uuid.Nil {
			return "", nil, appointment.Invalid("doctor_id and patient_id are required")
		}
		if req.DateTime.IsZero() {
			return "", nil, appointment.Invalid("date_time is required")
		}

		if err := s.reservations.Validate(ctx, req.DoctorID, req.DateTime, req.HoldToken); err != nil {
			return "", nil, err
		}
		defer s.reservations.Release(context.WithoutCancel(ctx), req.DoctorID, req.DateTime, req.HoldToken)

		doctor, err := s.dir.GetDoctor(ctx, req.DoctorID)
		if err != nil {
			return "", nil, err
		}
		patient, err := s.dir.GetPatient(ctx, req.PatientID)
		if err != nil {
			return "", nil, err
		}

		requiresApproval := true
		if req.RequiresManagerApproval != nil {
			requiresApproval = *req.RequiresManagerApproval
		}
		if actor == uuid.Nil {
			actor = req.PatientID
		}

		a, ev, err := s.machine.Book(appointment.Booking{
			ID:                      s.ids.NewID(),
			PatientID:               patient.ID,
			DoctorID:                doctor.ID,
			PatientName:             patient.Name,
			DoctorName:              doctor.Name,
			DateTime:                req.DateTime,
			Duration:                req.Duration,
			Type:                    req.Type,
			Priority:                req.Priority,
			Reason:                  req.Reason,
			RequiresManagerApproval: requiresApproval,
		}, actor)
		if err != nil {
			return "", nil, err
		}

		// Holds on every slot the appointment covers serialize overlapping
		// bookers; the index catches appointments committed before them.
		release, err := s.reservations.Extend(ctx, a.DoctorID, a.DateTime, a.End().Sub(a.DateTime))
		if err != nil {
			return "", nil, err
		}
		defer release()

		if err := s.index.CheckSlot(ctx, a.DoctorID, a.DateTime, a.Duration, uuid.Nil); err != nil {
			return "", nil, err
		}
		if err := s.repo.Create(ctx, &a); err != nil {
			return "", nil, fmt.Errorf("persist appointment: %w", err)
		}

		s.logger.Info("appointment booked",
			"appointment_id", a.ID,
			"doctor_id", a.DoctorID,
			"patient_id", a.PatientID,
			"status", a.Status,
		)
		s.dispatcher.Dispatch(ctx, a, notification.EventFor(ev))
		return "appointment booked", a, nil
	})
}

func (s *Service) ApproveAppointment(ctx context.Context, id, actor uuid.UUID, reason string) Result {
	return s.transition(ctx, id, actor, appointment.Approve{Reason: reason}, "appointment approved")
}

func (s *Service) DeclineAppointment(ctx context.Context, id, actor uuid.UUID, reason string) Result {
	return s.transition(ctx, id, actor, appointment.Decline{Reason: reason}, "appointment declined")
}

func (s *Service) ConfirmAppointment(ctx context.Context, id, actor uuid.UUID) Result {
	return s.transition(ctx, id, actor, appointment.Confirm{}, "appointment confirmed")
}

func (s *Service) CancelAppointment(ctx context.Context, id, actor uuid.UUID, reason string) Result {
	return s.transition(ctx, id, actor, appointment.Cancel{Reason: reason}, "appointment cancelled")
}

func (s *Service) StartAppointment(ctx context.Context, id, actor uuid.UUID) Result {
	return s.transition(ctx, id, actor, appointment.Start{}, "appointment started")
}

func (s *Service) CompleteAppointment(ctx context.Context, id, actor uuid.UUID, req CompleteRequest) Result {
	cmd := appointment.Complete{Duration: req.Duration, Notes: req.Notes, FollowUpNeeded: req.FollowUpNeeded}
	return s.transition(ctx, id, actor, cmd, "appointment completed")
}

func (s *Service) MarkNoShow(ctx context.Context, id, actor uuid.UUID, notes string) Result {
	return s.transition(ctx, id, actor, appointment.MarkNoShow{Notes: notes}, "appointment marked as no-show")
}

// RescheduleAppointment moves a pending appointment to a new time. Every slot
// the moved appointment covers is held for the duration of the write.
func (s *Service) RescheduleAppointment(ctx context.Context, id, actor uuid.UUID, newDateTime time.Time, reason string) Result {
	op := string(appointment.OpReschedule)
	return s.run(ctx, op, func(ctx context.Context) (string, any, error) {
		current, err := s.repo.Get(ctx, id)
		if err != nil {
			return "", nil, err
		}
		next, ev, err := s.machine.Apply(*current, actor, appointment.Reschedule{NewDateTime: newDateTime, Reason: reason})
		if err != nil {
			return "", nil, err
		}

		err = s.reservations.WithSpan(ctx, next.DoctorID, next.DateTime, next.End().Sub(next.DateTime), func(ctx context.Context) error {
			if err := s.index.CheckSlot(ctx, next.DoctorID, next.DateTime, next.Duration, next.ID); err != nil {
				return err
			}
			return s.repo.Update(ctx, &next, current.Version)
		})
		if err != nil {
			return "", nil, err
		}

		s.logger.Info("appointment rescheduled",
			"appointment_id", next.ID,
			"from", current.DateTime,
			"to", next.DateTime,
			"count", next.Rescheduling.Count,
		)
		s.dispatcher.Dispatch(ctx, next, notification.EventFor(ev))
		return "appointment rescheduled", next, nil
	})
}

func (s *Service) ProcessPayment(ctx context.Context, id, actor uuid.UUID, req payment.Request) Result {
	return s.run(ctx, "process_payment", func(ctx context.Context) (string, any, error) {
		next, ev, err := s.payments.ProcessPayment(ctx, id, actor, req)
		if err != nil {
			return "", nil, err
		}
		nev := notification.EventFor(ev)
		nev.Extra = map[string]any{
			"amount_cents":    next.Payment.AmountCents,
			"currency":        next.Payment.Currency,
			"method":          next.Payment.Method,
			"transaction_ref": next.Payment.TransactionRef,
		}
		s.dispatcher.Dispatch(ctx, *next, nev)
		return "payment completed", next, nil
	})
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) Result {
	return s.run(ctx, "get_appointment", func(ctx context.Context) (string, any, error) {
		a, err := s.repo.Get(ctx, id)
		if err != nil {
			return "", nil, err
		}
		return "ok", a, nil
	})
}

func (s *Service) ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) Result {
	return s.run(ctx, "list_patient_appointments", func(ctx context.Context) (string, any, error) {
		if _, err := s.dir.GetPatient(ctx, patientID); err != nil {
			return "", nil, err
		}
		items, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
		if err != nil {
			return "", nil, err
		}
		if items == nil {
			items = []appointment.Appointment{}
		}
		return fmt.Sprintf("%d appointments", len(items)), items, nil
	})
}

func (s *Service) ListNotifications(ctx context.Context, recipientID uuid.UUID, limit int) Result {
	return s.run(ctx, "list_notifications", func(ctx context.Context) (string, any, error) {
		if s.notifications == nil {
			return "0 notifications", []notification.Notification{}, nil
		}
		items, err := s.notifications.ListForRecipient(ctx, recipientID, limit)
		if err != nil {
			return "", nil, err
		}
		if items == nil {
			items = []notification.Notification{}
		}
		return fmt.Sprintf("%d notifications", len(items)), items, nil
	})
}

func (s *Service) MarkNotificationRead(ctx context.Context, id uuid.UUID) Result {
	return s.run(ctx, "mark_notification_read", func(ctx context.Context) (string, any, error) {
		if s.notifications == nil {
			return "", nil, appointment.ErrNotificationNotFound
		}
		if err := s.notifications.MarkRead(ctx, id, s.clock.Now()); err != nil {
			return "", nil, err
		}
		return "notification marked as read", nil, nil
	})
}

// transition is the load, apply, conditional write, notify sequence shared by
// every single-step status change.
func (s *Service) transition(ctx context.Context, id, actor uuid.UUID, cmd appointment.Command, message string) Result {
	op := string(cmd.Operation())
	return s.run(ctx, op, func(ctx context.Context) (string, any, error) {
		current, err := s.repo.Get(ctx, id)
		if err != nil {
			return "", nil, err
		}
		next, ev, err := s.machine.Apply(*current, actor, cmd)
		if err != nil {
			return "", nil, err
		}
		if err := s.repo.Update(ctx, &next, current.Version); err != nil {
			return "", nil, err
		}

		s.logger.Info("appointment transitioned",
			"appointment_id", next.ID,
			"operation", ev.Operation,
			"from", ev.From,
			"to", ev.To,
			"actor", actor,
		)
		s.dispatcher.Dispatch(ctx, next, notification.EventFor(ev))
		return message, next, nil
	})
}

func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context) (string, any, error)) (res Result) {
	ctx, span := lifecycleTracer.Start(ctx, "lifecycle."+op)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("operation panicked",
				"operation", op,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			span.RecordError(fmt.Errorf("panic: %v", r))
			s.metrics.ObserveOperation(op, string(appointment.KindInternal))
			res = Result{Kind: appointment.KindInternal, Message: "internal error"}
		}
	}()

	msg, payload, err := fn(ctx)
	if err != nil {
		kind := appointment.KindOf(err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error.kind", string(kind)))
		s.metrics.ObserveOperation(op, string(kind))

		message := err.Error()
		if kind == appointment.KindInternal {
			s.logger.Error("operation failed", "operation", op, "error", err)
			message = "internal error"
		} else {
			s.logger.Info("operation rejected", "operation", op, "kind", kind, "error", err)
		}
		return Result{Kind: kind, Message: message}
	}

	s.metrics.ObserveOperation(op, "ok")
	return Result{Success: true, Message: msg, Payload: payload}
}
