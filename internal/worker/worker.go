package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hackgods/clinic-appointment-lifecycle/internal/appointment"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/notification"
	"github.com/hackgods/clinic-appointment-lifecycle/pkg/logging"
)

const (
	runTimeout      = 20 * time.Second
	redeliveryBatch = 100
)

// Claimer marks a key as taken for ttl; only the first caller gets true.
// Reminders use it so that replicas do not send the same reminder twice.
type Claimer interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
}

type Config struct {
	Repository  appointment.Repository
	Dispatcher  *notification.Dispatcher
	Claims      Claimer
	Clock       appointment.Clock
	Logger      *logging.Logger
	Interval    time.Duration
	MaxAttempts int
}

// Worker sends appointment reminders and retries failed notification
// deliveries on a fixed interval.
type Worker struct {
	repo        appointment.Repository
	dispatcher  *notification.Dispatcher
	claims      Claimer
	clock       appointment.Clock
	logger      *logging.Logger
	interval    time.Duration
	maxAttempts int
}

func New(cfg Config) *Worker {
	w := &Worker{
		repo:        cfg.Repository,
		dispatcher:  cfg.Dispatcher,
		claims:      cfg.Claims,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		interval:    cfg.Interval,
		maxAttempts: cfg.MaxAttempts,
	}
	if w.clock == nil {
		w.clock = appointment.SystemClock{}
	}
	if w.logger == nil {
		w.logger = logging.Default()
	}
	if w.interval <= 0 {
		w.interval = time.Minute
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = 5
	}
	return w
}

// Run executes RunOnce at startup and then on every tick until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

func (w *Worker) RunOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	start := time.Now()
	sent, err := w.SendReminders(runCtx)
	if err != nil {
		w.logger.Error("reminder run failed", "error", err)
	}
	redelivered, err := w.dispatcher.Redeliver(runCtx, w.maxAttempts, redeliveryBatch)
	if err != nil {
		w.logger.Error("redelivery run failed", "error", err)
	}
	w.logger.Info("worker run complete",
		"reminders", sent,
		"redelivered", redelivered,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// SendReminders notifies about approved or confirmed appointments starting
// within [now+lead, now+lead+interval) for each reminder window. It returns
// the number of reminders dispatched.
func (w *Worker) SendReminders(ctx context.Context) (int, error) {
	now := w.clock.Now()
	statuses := []appointment.Status{appointment.StatusApproved, appointment.StatusConfirmed}

	sent := 0
	for _, win := range notification.ReminderWindows {
		from := now.Add(win.Lead)
		due, err := w.repo.ListScheduledBetween(ctx, from, from.Add(w.interval), statuses)
		if err != nil {
			return sent, fmt.Errorf("list appointments for %s reminders: %w", win.Label, err)
		}

		for _, a := range due {
			if w.claims != nil {
				ok, err := w.claims.Acquire(ctx, reminderKey(a, win.Label), "sent", win.Lead+w.interval)
				if err != nil {
					w.logger.Warn("reminder claim failed", "appointment_id", a.ID, "window", win.Label, "error", err)
					continue
				}
				if !ok {
					continue
				}
			}
			w.dispatcher.Dispatch(ctx, a, notification.Event{
				Type:       notification.TypeReminder,
				Transition: appointment.Event{To: a.Status, At: now},
				Window:     win.Label,
			})
			sent++
		}
	}
	return sent, nil
}

// reminderKey includes the start time so a rescheduled appointment is
// reminded again.
func reminderKey(a appointment.Appointment, window string) string {
	return fmt.Sprintf("reminder:%s:%s:%d", a.ID, window, a.DateTime.Unix())
}
