package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-appointment-lifecycle/internal/appointment"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/metrics"
	"github.com/hackgods/clinic-appointment-lifecycle/pkg/logging"
)

var dispatchTracer = otel.Tracer("clinic/notification")

const (
	defaultDeliverTimeout = 10 * time.Second
	defaultMaxUnsaved     = 1000
)

type DispatcherConfig struct {
	Store     Store
	Deliverer Deliverer
	IDs       appointment.IDGenerator
	Clock     appointment.Clock
	Location  *time.Location
	ManagerID uuid.UUID
	Logger    *logging.Logger
	Metrics   *metrics.LifecycleMetrics
	// DeliverTimeout bounds a single delivery attempt.
	DeliverTimeout time.Duration
	// MaxUnsaved caps the batches kept for another save after the store
	// failed. The oldest are dropped first.
	MaxUnsaved int
}

// Dispatcher turns lifecycle events into persisted notifications and hands
// them to a Deliverer in the background. Failures here never fail the
// operation that triggered them.
type Dispatcher struct {
	store          Store
	deliverer      Deliverer
	ids            appointment.IDGenerator
	clock          appointment.Clock
	loc            *time.Location
	managerID      uuid.UUID
	logger         *logging.Logger
	metrics        *metrics.LifecycleMetrics
	deliverTimeout time.Duration
	maxUnsaved     int

	wg sync.WaitGroup

	mu      sync.Mutex
	unsaved [][]Notification
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		store:          cfg.Store,
		deliverer:      cfg.Deliverer,
		ids:            cfg.IDs,
		clock:          cfg.Clock,
		loc:            cfg.Location,
		managerID:      cfg.ManagerID,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		deliverTimeout: cfg.DeliverTimeout,
		maxUnsaved:     cfg.MaxUnsaved,
	}
	if d.ids == nil {
		d.ids = appointment.UUIDGenerator{}
	}
	if d.clock == nil {
		d.clock = appointment.SystemClock{}
	}
	if d.loc == nil {
		d.loc = time.UTC
	}
	if d.logger == nil {
		d.logger = logging.Default()
	}
	if d.deliverTimeout <= 0 {
		d.deliverTimeout = defaultDeliverTimeout
	}
	if d.maxUnsaved <= 0 {
		d.maxUnsaved = defaultMaxUnsaved
	}
	return d
}

// Dispatch persists the notifications for ev and schedules their delivery.
// It returns the built notifications even when persisting them failed; such
// a batch is queued for FlushUnsaved.
func (d *Dispatcher) Dispatch(ctx context.Context, a appointment.Appointment, ev Event) []Notification {
	ctx, span := dispatchTracer.Start(ctx, "notification.Dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("appointment.id", a.ID.String()),
		attribute.String("notification.type", string(ev.Type)),
	)

	ns := Build(a, ev, BuildOptions{
		IDs:       d.ids,
		Now:       d.clock.Now(),
		Location:  d.loc,
		ManagerID: d.managerID,
	})
	if len(ns) == 0 {
		return nil
	}

	if d.store != nil {
		if err := d.store.Save(ctx, ns); err != nil {
			d.metrics.ObserveNotification("persist", "error")
			d.logger.Error("failed to persist notifications",
				"appointment_id", a.ID,
				"type", ev.Type,
				"error", err,
			)
			d.queueUnsaved(ns)
			return ns
		}
		d.metrics.ObserveNotification("persist", "ok")
	}

	if d.deliverer != nil {
		bg := context.WithoutCancel(ctx)
		for _, n := range ns {
			d.wg.Add(1)
			go func(n Notification) {
				defer d.wg.Done()
				d.deliver(bg, n)
			}(n)
		}
	}
	return ns
}

// Redeliver saves queued batches, then retries stored notifications that are
// not yet delivered and have fewer than maxAttempts attempts. Pending records
// younger than the delivery timeout are left to the delivery already in
// flight. It returns how many were delivered.
func (d *Dispatcher) Redeliver(ctx context.Context, maxAttempts, limit int) (int, error) {
	if d.store == nil || d.deliverer == nil {
		return 0, nil
	}
	if _, err := d.FlushUnsaved(ctx); err != nil {
		d.logger.Warn("saving queued notifications failed", "queued", d.Unsaved(), "error", err)
	}

	cutoff := d.clock.Now().Add(-d.deliverTimeout)
	pending, err := d.store.ListUndelivered(ctx, maxAttempts, limit, cutoff)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, n := range pending {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if d.deliver(ctx, n) {
			delivered++
		}
	}
	return delivered, nil
}

// FlushUnsaved saves batches queued after a failed save. They stay pending
// and are delivered by Redeliver. It stops at the first failure, keeping that
// batch and the rest queued, and returns how many records were saved.
func (d *Dispatcher) FlushUnsaved(ctx context.Context) (int, error) {
	if d.store == nil {
		return 0, nil
	}
	d.mu.Lock()
	batches := d.unsaved
	d.unsaved = nil
	d.mu.Unlock()

	saved := 0
	for i, ns := range batches {
		if err := d.store.Save(ctx, ns); err != nil {
			d.requeue(batches[i:])
			return saved, err
		}
		d.metrics.ObserveNotification("persist", "ok")
		saved += len(ns)
	}
	return saved, nil
}

// RetryUnsaved calls FlushUnsaved every interval until ctx is done.
func (d *Dispatcher) RetryUnsaved(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.Unsaved() == 0 {
				continue
			}
			saved, err := d.FlushUnsaved(ctx)
			if err != nil {
				d.logger.Warn("saving queued notifications failed", "saved", saved, "queued", d.Unsaved(), "error", err)
				continue
			}
			d.logger.Info("queued notifications saved", "saved", saved)
		}
	}
}

// Unsaved is the number of batches waiting for FlushUnsaved.
func (d *Dispatcher) Unsaved() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.unsaved)
}

func (d *Dispatcher) queueUnsaved(ns []Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.unsaved = append(d.unsaved, ns)
	d.trimUnsaved()
}

// requeue puts batches that failed again ahead of those queued meanwhile.
func (d *Dispatcher) requeue(batches [][]Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()

	queued := make([][]Notification, 0, len(batches)+len(d.unsaved))
	queued = append(queued, batches...)
	d.unsaved = append(queued, d.unsaved...)
	d.trimUnsaved()
}

// trimUnsaved drops the oldest batches past maxUnsaved. Callers hold mu.
func (d *Dispatcher) trimUnsaved() {
	over := len(d.unsaved) - d.maxUnsaved
	if over <= 0 {
		return
	}
	d.unsaved = d.unsaved[over:]
	d.metrics.ObserveNotification("persist", "dropped")
	d.logger.Error("notification retry queue full, dropping oldest", "dropped_batches", over)
}

// Wait blocks until in-flight background deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) bool {
	ctx, cancel := context.WithTimeout(ctx, d.deliverTimeout)
	defer cancel()

	err := d.deliverer.Deliver(ctx, n)
	if err != nil {
		d.metrics.ObserveNotification("deliver", "error")
		d.logger.Warn("notification delivery failed",
			"notification_id", n.ID,
			"recipient_id", n.RecipientID,
			"attempt", n.Attempts+1,
			"error", err,
		)
		if d.store != nil {
			if markErr := d.store.MarkFailed(ctx, n.ID, err.Error()); markErr != nil {
				d.logger.Error("failed to record delivery failure", "notification_id", n.ID, "error", markErr)
			}
		}
		return false
	}

	d.metrics.ObserveNotification("deliver", "ok")
	if d.store != nil {
		if markErr := d.store.MarkDelivered(ctx, n.ID, d.clock.Now()); markErr != nil {
			d.logger.Error("failed to record delivery", "notification_id", n.ID, "error", markErr)
		}
	}
	return true
}

// LogDeliverer writes each notification to the structured log.
type LogDeliverer struct {
	Logger *logging.Logger
}

func (l LogDeliverer) Deliver(ctx context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger.Info("notification",
		"notification_id", n.ID,
		"recipient_type", n.RecipientType,
		"recipient_id", n.RecipientID,
		"type", n.Type,
		"priority", n.Priority,
		"title", n.Title,
	)
	return nil
}

// MultiDeliverer delivers to each transport in order and fails on the first
// error.
type MultiDeliverer []Deliverer

func (m MultiDeliverer) Deliver(ctx context.Context, n Notification) error {
	for _, d := range m {
		if err := d.Deliver(ctx, n); err != nil {
			return err
		}
	}
	return nil
}
