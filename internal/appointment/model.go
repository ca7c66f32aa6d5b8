package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusConfirmed       Status = "confirmed"
	StatusInProgress      Status = "in_progress"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
	StatusDeclined        Status = "declined"
	StatusNoShow          Status = "no_show"
)

// Terminal reports whether no further transitions are permitted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusDeclined, StatusNoShow:
		return true
	}
	return false
}

// Occupying reports whether an appointment in status s blocks its slot.
func (s Status) Occupying() bool {
	switch s {
	case StatusPendingApproval, StatusApproved, StatusConfirmed, StatusInProgress:
		return true
	}
	return false
}

type Type string

const (
	TypeConsultation   Type = "consultation"
	TypeFollowUp       Type = "follow_up"
	TypeRoutineCheckup Type = "routine_checkup"
	TypeProcedure      Type = "procedure"
	TypeEmergency      Type = "emergency"
)

func (t Type) Valid() bool {
	switch t {
	case TypeConsultation, TypeFollowUp, TypeRoutineCheckup, TypeProcedure, TypeEmergency:
		return true
	}
	return false
}

type Priority string

const (
	PriorityRoutine   Priority = "routine"
	PriorityUrgent    Priority = "urgent"
	PriorityEmergency Priority = "emergency"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityRoutine, PriorityUrgent, PriorityEmergency:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentUnpaid        PaymentStatus = "unpaid"
	PaymentCompleted     PaymentStatus = "completed"
	PaymentRefundPending PaymentStatus = "refund_pending"
)

const (
	MinDuration     = 15
	MaxDuration     = 120
	DefaultDuration = 30

	MaxReschedules = 3

	// RefundWindow is how far ahead of the appointment a cancellation must
	// happen to be refund eligible.
	RefundWindow = 24 * time.Hour
)

type ApprovalWorkflow struct {
	ReviewedBy   *uuid.UUID `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	AutoApproved bool       `json:"auto_approved"`
}

type PaymentState struct {
	Status         PaymentStatus `json:"status"`
	Method         string        `json:"method,omitempty"`
	AmountCents    int64         `json:"amount_cents,omitempty"`
	Currency       string        `json:"currency,omitempty"`
	TransactionRef string        `json:"transaction_ref,omitempty"`
	PaidAt         *time.Time    `json:"paid_at,omitempty"`
}

type RescheduleRecord struct {
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	Reason      string    `json:"reason,omitempty"`
	RequestedBy uuid.UUID `json:"requested_by"`
	At          time.Time `json:"at"`
}

type Rescheduling struct {
	OriginalDateTime *time.Time         `json:"original_date_time,omitempty"`
	Count            int                `json:"count"`
	History          []RescheduleRecord `json:"history,omitempty"`
}

type Cancellation struct {
	CancelledBy    uuid.UUID `json:"cancelled_by"`
	CancelledAt    time.Time `json:"cancelled_at"`
	Reason         string    `json:"reason,omitempty"`
	RefundEligible bool      `json:"refund_eligible"`
}

type Completion struct {
	CompletedBy    uuid.UUID `json:"completed_by"`
	CompletedAt    time.Time `json:"completed_at"`
	Duration       int       `json:"duration"`
	Notes          string    `json:"notes,omitempty"`
	FollowUpNeeded bool      `json:"follow_up_needed"`
}

// HistoryEntry is one line of the append-only audit trail.
type HistoryEntry struct {
	Action      Operation      `json:"action"`
	PerformedBy uuid.UUID      `json:"performed_by"`
	Timestamp   time.Time      `json:"timestamp"`
	Notes       string         `json:"notes,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

type Appointment struct {
	ID          uuid.UUID
	PatientID   uuid.UUID
	DoctorID    uuid.UUID
	PatientName string
	DoctorName  string

	DateTime time.Time
	Duration int // minutes
	Type     Type
	Priority Priority
	Reason   string

	Status       Status
	Approval     ApprovalWorkflow
	Payment      PaymentState
	Rescheduling Rescheduling
	Cancellation *Cancellation
	Completion   *Completion
	History      []HistoryEntry

	Version       int64
	CreatedAt     time.Time
	LastUpdatedAt time.Time
	LastUpdatedBy uuid.UUID
}

// End returns the instant the appointment is scheduled to finish.
func (a *Appointment) End() time.Time {
	return a.DateTime.Add(time.Duration(a.Duration) * time.Minute)
}

// Clone returns a deep copy so transitions never alias the caller's value.
func (a Appointment) Clone() Appointment {
	out := a
	if a.Approval.ReviewedBy != nil {
		v := *a.Approval.ReviewedBy
		out.Approval.ReviewedBy = &v
	}
	if a.Approval.ReviewedAt != nil {
		v := *a.Approval.ReviewedAt
		out.Approval.ReviewedAt = &v
	}
	if a.Payment.PaidAt != nil {
		v := *a.Payment.PaidAt
		out.Payment.PaidAt = &v
	}
	if a.Rescheduling.OriginalDateTime != nil {
		v := *a.Rescheduling.OriginalDateTime
		out.Rescheduling.OriginalDateTime = &v
	}
	out.Rescheduling.History = append([]RescheduleRecord(nil), a.Rescheduling.History...)
	if a.Cancellation != nil {
		v := *a.Cancellation
		out.Cancellation = &v
	}
	if a.Completion != nil {
		v := *a.Completion
		out.Completion = &v
	}
	out.History = make([]HistoryEntry, len(a.History))
	for i, h := range a.History {
		out.History[i] = h
		if h.Data != nil {
			out.History[i].Data = make(map[string]any, len(h.Data))
			for k, v := range h.Data {
				out.History[i].Data[k] = v
			}
		}
	}
	return out
}

type Doctor struct {
	ID         uuid.UUID
	Name       string
	Department string
	Specialty  string
}

type Patient struct {
	ID    uuid.UUID
	Name  string
	Email *string
}

// WorkingHours is a doctor's shift for one weekday, in clinic-local HH:MM.
type WorkingHours struct {
	Weekday time.Weekday
	Start   string
	End     string
}
