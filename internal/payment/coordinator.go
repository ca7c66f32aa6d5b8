package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-lifecycle/internal/appointment"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/metrics"
	"github.com/hackgods/clinic-appointment-lifecycle/pkg/logging"
)

// recordAttempts bounds how often a successful charge is re-applied after a
// concurrent modification of the same appointment.
const recordAttempts = 3

const defaultClaimTTL = 30 * time.Second

type Request struct {
	Method      Method
	AmountCents int64
	Currency    string
}

// Claims grants short exclusive claims on a key. reservation.HoldStore and
// the Redis hold store satisfy it.
type Claims interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

type CoordinatorConfig struct {
	Repository appointment.Repository
	Machine    *appointment.StateMachine
	Source     OutcomeSource
	// Claims serializes payments per appointment across replicas. Without
	// it concurrent callers may both reach the source.
	Claims     Claims
	ClaimTTL   time.Duration
	Logger     *logging.Logger
	Metrics    *metrics.LifecycleMetrics
}

// Coordinator drives the payment sub-state of an appointment.
type Coordinator struct {
	repo     appointment.Repository
	machine  *appointment.StateMachine
	source   OutcomeSource
	claims   Claims
	claimTTL time.Duration
	logger   *logging.Logger
	metrics  *metrics.LifecycleMetrics
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		repo:     cfg.Repository,
		machine:  cfg.Machine,
		source:   cfg.Source,
		claims:   cfg.Claims,
		claimTTL: cfg.ClaimTTL,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
	if c.logger == nil {
		c.logger = logging.Default()
	}
	if c.claimTTL <= 0 {
		c.claimTTL = defaultClaimTTL
	}
	return c
}

// PaymentKey is the claim key held while a payment for id is in flight.
func PaymentKey(id uuid.UUID) string {
	return "payment:" + id.String()
}

// ProcessPayment charges through the outcome source and records a successful
// charge on the appointment. A declined charge leaves the appointment as it
// was and returns ErrPaymentFailed; it is never retried here.
func (c *Coordinator) ProcessPayment(ctx context.Context, id, actor uuid.UUID, req Request) (*appointment.Appointment, appointment.Event, error) {
	if !req.Method.Valid() {
		return nil, appointment.Event{}, appointment.Invalid("unknown payment method %q", req.Method)
	}
	if req.AmountCents <= 0 {
		return nil, appointment.Event{}, appointment.Invalid("amount must be positive")
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}
	req.Currency = strings.ToUpper(req.Currency)

	release, err := c.claim(ctx, id)
	if err != nil {
		return nil, appointment.Event{}, err
	}
	defer release()

	current, err := c.repo.Get(ctx, id)
	if err != nil {
		return nil, appointment.Event{}, fmt.Errorf("load appointment: %w", err)
	}
	if err := payable(current); err != nil {
		return nil, appointment.Event{}, err
	}

	chargeCtx, cancel := context.WithTimeout(ctx, c.claimTTL)
	outcome, err := c.source.AttemptPayment(chargeCtx, req.Method, req.AmountCents, attemptFor(current, req))
	cancel()
	if err != nil {
		c.metrics.ObservePayment(string(req.Method), "error")
		return nil, appointment.Event{}, fmt.Errorf("payment source: %w", err)
	}
	if !outcome.Success {
		c.metrics.ObservePayment(string(req.Method), "declined")
		c.logger.Warn("payment declined",
			"appointment_id", id,
			"method", req.Method,
			"amount_cents", req.AmountCents,
			"reason", outcome.Reason,
		)
		return nil, appointment.Event{}, fmt.Errorf("%w: %s", appointment.ErrPaymentFailed, outcome.Reason)
	}
	c.metrics.ObservePayment(string(req.Method), "approved")

	cmd := appointment.RecordPayment{
		Method:         string(req.Method),
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		TransactionRef: outcome.TransactionRef,
	}

	for attempt := 1; ; attempt++ {
		next, ev, err := c.machine.Apply(*current, actor, cmd)
		if err == nil {
			err = c.repo.Update(ctx, &next, current.Version)
			if err == nil {
				c.logger.Info("payment recorded",
					"appointment_id", id,
					"transaction_ref", outcome.TransactionRef,
					"amount_cents", req.AmountCents,
				)
				return &next, ev, nil
			}
		}

		if !errors.Is(err, appointment.ErrConflict) || attempt == recordAttempts {
			// The charge went through but could not be recorded; it needs
			// manual reconciliation against the transaction reference.
			c.logger.Error("payment captured but not recorded",
				"appointment_id", id,
				"transaction_ref", outcome.TransactionRef,
				"error", err,
			)
			return nil, appointment.Event{}, err
		}

		current, err = c.repo.Get(ctx, id)
		if err != nil {
			return nil, appointment.Event{}, fmt.Errorf("reload appointment: %w", err)
		}
	}
}

// claim takes the per-appointment payment claim. A second payer gets
// ErrConflict before anything is charged.
func (c *Coordinator) claim(ctx context.Context, id uuid.UUID) (func(), error) {
	if c.claims == nil {
		return func() {}, nil
	}
	key, token := PaymentKey(id), uuid.NewString()

	ok, err := c.claims.Acquire(ctx, key, token, c.claimTTL)
	if err != nil {
		return nil, fmt.Errorf("claim payment: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: a payment for appointment %s is already in progress", appointment.ErrConflict, id)
	}
	return func() {
		if err := c.claims.Release(context.WithoutCancel(ctx), key, token); err != nil {
			c.logger.Warn("release payment claim failed", "appointment_id", id, "error", err)
		}
	}, nil
}

func payable(a *appointment.Appointment) error {
	if a.Payment.Status == appointment.PaymentCompleted {
		return appointment.ErrAlreadyPaid
	}
	if !appointment.ValidTransition(appointment.OpRecordPayment, a.Status) {
		return fmt.Errorf("%w: cannot take payment for an appointment that is %s", appointment.ErrInvalidTransition, a.Status)
	}
	return nil
}

func attemptFor(a *appointment.Appointment, req Request) Attempt {
	return Attempt{
		AppointmentID:  a.ID,
		PatientID:      a.PatientID,
		Currency:       req.Currency,
		IdempotencyKey: fmt.Sprintf("%s:%d", a.ID, a.Version),
	}
}
