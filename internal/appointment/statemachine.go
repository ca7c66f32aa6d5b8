package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Operation names a lifecycle transition. It is also the history action.
type Operation string

const (
	OpBook          Operation = "book"
	OpApprove       Operation = "approve"
	OpDecline       Operation = "decline"
	OpReschedule    Operation = "reschedule"
	OpConfirm       Operation = "confirm"
	OpCancel        Operation = "cancel"
	OpStart         Operation = "start"
	OpComplete      Operation = "complete"
	OpMarkNoShow    Operation = "mark_no_show"
	OpRecordPayment Operation = "record_payment"
)

// legalFrom lists, per operation, the statuses it may be applied to.
var legalFrom = map[Operation][]Status{
	OpApprove:       {StatusPendingApproval},
	OpDecline:       {StatusPendingApproval},
	OpReschedule:    {StatusPendingApproval},
	OpConfirm:       {StatusApproved},
	OpCancel:        {StatusPendingApproval, StatusApproved, StatusConfirmed},
	OpStart:         {StatusConfirmed},
	OpComplete:      {StatusInProgress},
	OpMarkNoShow:    {StatusPendingApproval, StatusApproved, StatusConfirmed, StatusInProgress},
	OpRecordPayment: {StatusPendingApproval, StatusApproved, StatusConfirmed, StatusInProgress, StatusCompleted},
}

// ValidTransition reports whether op may be applied to an appointment in status from.
func ValidTransition(op Operation, from Status) bool {
	for _, s := range legalFrom[op] {
		if s == from {
			return true
		}
	}
	return false
}

// Command is the closed set of transitions accepted by StateMachine.Apply.
type Command interface {
	Operation() Operation
	command()
}

type Approve struct {
	Reason string
}

type Decline struct {
	Reason string
}

type Reschedule struct {
	NewDateTime time.Time
	Reason      string
}

type Confirm struct{}

type Cancel struct {
	Reason string
}

type Start struct{}

type Complete struct {
	Duration       int // actual minutes; zero keeps the scheduled duration
	Notes          string
	FollowUpNeeded bool
}

type MarkNoShow struct {
	Notes string
}

// RecordPayment settles the payment sub-state. Status is left as is.
type RecordPayment struct {
	Method         string
	AmountCents    int64
	Currency       string
	TransactionRef string
}

func (Approve) Operation() Operation       { return OpApprove }
func (Decline) Operation() Operation       { return OpDecline }
func (Reschedule) Operation() Operation    { return OpReschedule }
func (Confirm) Operation() Operation       { return OpConfirm }
func (Cancel) Operation() Operation        { return OpCancel }
func (Start) Operation() Operation         { return OpStart }
func (Complete) Operation() Operation      { return OpComplete }
func (MarkNoShow) Operation() Operation    { return OpMarkNoShow }
func (RecordPayment) Operation() Operation { return OpRecordPayment }

func (Approve) command()       {}
func (Decline) command()       {}
func (Reschedule) command()    {}
func (Confirm) command()       {}
func (Cancel) command()        {}
func (Start) command()         {}
func (Complete) command()      {}
func (MarkNoShow) command()    {}
func (RecordPayment) command() {}

// Event describes a transition that was applied.
type Event struct {
	Operation Operation
	From      Status
	To        Status
	Actor     uuid.UUID
	At        time.Time
}

// Booking is the input to the book transition.
type Booking struct {
	ID          uuid.UUID
	PatientID   uuid.UUID
	DoctorID    uuid.UUID
	PatientName string
	DoctorName  string
	DateTime    time.Time
	Duration    int
	Type        Type
	Priority    Priority
	Reason      string

	RequiresManagerApproval bool
}

// StateMachine owns every mutation of an Appointment.
type StateMachine struct {
	clock Clock
}

func NewStateMachine(clock Clock) *StateMachine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &StateMachine{clock: clock}
}

// Book creates a new appointment. Routine bookings that do not require a
// manager are approved immediately.
func (m *StateMachine) Book(b Booking, actor uuid.UUID) (Appointment, Event, error) {
	now := m.clock.Now().UTC().Truncate(time.Microsecond)
	if err := validateBooking(&b, now); err != nil {
		return Appointment{}, Event{}, err
	}

	autoApprove := !b.RequiresManagerApproval &&
		(b.Type == TypeRoutineCheckup || b.Priority == PriorityRoutine)

	a := Appointment{
		ID:            b.ID,
		PatientID:     b.PatientID,
		DoctorID:      b.DoctorID,
		PatientName:   b.PatientName,
		DoctorName:    b.DoctorName,
		DateTime:      b.DateTime.UTC(),
		Duration:      b.Duration,
		Type:          b.Type,
		Priority:      b.Priority,
		Reason:        b.Reason,
		Status:        StatusPendingApproval,
		Payment:       PaymentState{Status: PaymentUnpaid},
		CreatedAt:     now,
		LastUpdatedAt: now,
		LastUpdatedBy: actor,
	}
	if autoApprove {
		a.Status = StatusApproved
		a.Approval = ApprovalWorkflow{
			AutoApproved: true,
			ReviewedAt:   &now,
			Reason:       "auto-approved routine booking",
		}
	}

	a.History = []HistoryEntry{{
		Action:      OpBook,
		PerformedBy: actor,
		Timestamp:   now,
		Data: map[string]any{
			"to":            string(a.Status),
			"date_time":     a.DateTime.Format(time.RFC3339),
			"duration":      a.Duration,
			"auto_approved": autoApprove,
		},
	}}

	return a, Event{Operation: OpBook, To: a.Status, Actor: actor, At: now}, nil
}

func validateBooking(b *Booking, now time.Time) error {
	if b.ID == uuid.Nil {
		return Invalid("appointment id is required")
	}
	if b.PatientID == uuid.Nil {
		return Invalid("patient_id is required")
	}
	if b.DoctorID == uuid.Nil {
		return Invalid("doctor_id is required")
	}
	if b.DateTime.IsZero() {
		return Invalid("date_time is required")
	}
	if !b.DateTime.After(now) {
		return Invalid("date_time must be in the future")
	}
	if b.Duration == 0 {
		b.Duration = DefaultDuration
	}
	if b.Duration < MinDuration || b.Duration > MaxDuration {
		return Invalid("duration must be between %d and %d minutes", MinDuration, MaxDuration)
	}
	if b.Type == "" {
		b.Type = TypeConsultation
	}
	if !b.Type.Valid() {
		return Invalid("unknown appointment type %q", b.Type)
	}
	if b.Priority == "" {
		b.Priority = PriorityRoutine
	}
	if !b.Priority.Valid() {
		return Invalid("unknown priority %q", b.Priority)
	}
	b.Reason = strings.TrimSpace(b.Reason)
	return nil
}

// Apply runs cmd against a copy of current. On error current is returned
// untouched and no history is written.
func (m *StateMachine) Apply(current Appointment, actor uuid.UUID, cmd Command) (Appointment, Event, error) {
	op := cmd.Operation()

	if c, ok := cmd.(RecordPayment); ok {
		if current.Payment.Status == PaymentCompleted {
			return current, Event{}, ErrAlreadyPaid
		}
		if c.AmountCents <= 0 {
			return current, Event{}, Invalid("amount must be positive")
		}
		if c.TransactionRef == "" {
			return current, Event{}, Invalid("transaction reference is required")
		}
	}

	if !ValidTransition(op, current.Status) {
		return current, Event{}, fmt.Errorf("%w: cannot %s an appointment that is %s", ErrInvalidTransition, op, current.Status)
	}

	next := current.Clone()
	now := m.stamp(&next)
	data := map[string]any{}
	var notes string

	switch c := cmd.(type) {
	case Approve:
		next.Status = StatusApproved
		next.Approval.ReviewedBy = &actor
		next.Approval.ReviewedAt = &now
		next.Approval.Reason = c.Reason
		next.Approval.AutoApproved = false
		notes = c.Reason

	case Decline:
		if strings.TrimSpace(c.Reason) == "" {
			return current, Event{}, Invalid("a decline reason is required")
		}
		next.Status = StatusDeclined
		next.Approval.ReviewedBy = &actor
		next.Approval.ReviewedAt = &now
		next.Approval.Reason = c.Reason
		notes = c.Reason

	case Reschedule:
		if current.Rescheduling.Count >= MaxReschedules {
			return current, Event{}, fmt.Errorf("%w: already rescheduled %d times", ErrRescheduleLimitExceeded, current.Rescheduling.Count)
		}
		if c.NewDateTime.IsZero() || !c.NewDateTime.After(now) {
			return current, Event{}, Invalid("new date_time must be in the future")
		}
		to := c.NewDateTime.UTC()
		if to.Equal(current.DateTime) {
			return current, Event{}, Invalid("new date_time equals the current one")
		}
		if next.Rescheduling.OriginalDateTime == nil {
			orig := current.DateTime
			next.Rescheduling.OriginalDateTime = &orig
		}
		next.Rescheduling.Count++
		next.Rescheduling.History = append(next.Rescheduling.History, RescheduleRecord{
			From:        current.DateTime,
			To:          to,
			Reason:      c.Reason,
			RequestedBy: actor,
			At:          now,
		})
		next.DateTime = to
		next.Status = StatusPendingApproval
		next.Approval = ApprovalWorkflow{}
		data["from_date_time"] = current.DateTime.Format(time.RFC3339)
		data["to_date_time"] = to.Format(time.RFC3339)
		data["reschedule_count"] = next.Rescheduling.Count
		notes = c.Reason

	case Confirm:
		next.Status = StatusConfirmed

	case Cancel:
		eligible := RefundEligible(current, now)
		next.Status = StatusCancelled
		next.Cancellation = &Cancellation{
			CancelledBy:    actor,
			CancelledAt:    now,
			Reason:         c.Reason,
			RefundEligible: eligible,
		}
		if eligible && current.Payment.Status == PaymentCompleted {
			next.Payment.Status = PaymentRefundPending
			data["payment_status"] = string(PaymentRefundPending)
		}
		data["refund_eligible"] = eligible
		notes = c.Reason

	case Start:
		next.Status = StatusInProgress

	case Complete:
		if c.Duration < 0 {
			return current, Event{}, Invalid("duration cannot be negative")
		}
		d := c.Duration
		if d == 0 {
			d = current.Duration
		}
		next.Status = StatusCompleted
		next.Completion = &Completion{
			CompletedBy:    actor,
			CompletedAt:    now,
			Duration:       d,
			Notes:          c.Notes,
			FollowUpNeeded: c.FollowUpNeeded,
		}
		data["duration"] = d
		notes = c.Notes

	case MarkNoShow:
		next.Status = StatusNoShow
		notes = c.Notes

	case RecordPayment:
		paidAt := now
		next.Payment = PaymentState{
			Status:         PaymentCompleted,
			Method:         c.Method,
			AmountCents:    c.AmountCents,
			Currency:       c.Currency,
			TransactionRef: c.TransactionRef,
			PaidAt:         &paidAt,
		}
		data["method"] = c.Method
		data["amount_cents"] = c.AmountCents
		data["transaction_ref"] = c.TransactionRef

	default:
		return current, Event{}, fmt.Errorf("%w: unsupported operation %s", ErrInvalidTransition, op)
	}

	data["from"] = string(current.Status)
	data["to"] = string(next.Status)

	next.LastUpdatedAt = now
	next.LastUpdatedBy = actor
	next.History = append(next.History, HistoryEntry{
		Action:      op,
		PerformedBy: actor,
		Timestamp:   now,
		Notes:       notes,
		Data:        data,
	})

	return next, Event{Operation: op, From: current.Status, To: next.Status, Actor: actor, At: now}, nil
}

// stamp returns a timestamp strictly after the last history entry.
func (m *StateMachine) stamp(a *Appointment) time.Time {
	now := m.clock.Now().UTC().Truncate(time.Microsecond)
	if n := len(a.History); n > 0 {
		last := a.History[n-1].Timestamp
		if !now.After(last) {
			now = last.Add(time.Microsecond)
		}
	}
	return now
}

// RefundEligible reports whether cancelling a at now would qualify for a refund.
func RefundEligible(a Appointment, now time.Time) bool {
	return a.DateTime.Sub(now) > RefundWindow
}
