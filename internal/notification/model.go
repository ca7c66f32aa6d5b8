package notification

import (
	"time"

	"github.com/google/uuid"
)

type RecipientType string

const (
	RecipientPatient RecipientType = "patient"
	RecipientDoctor  RecipientType = "doctor"
	RecipientManager RecipientType = "manager"
)

type Type string

const (
	TypeBooking      Type = "booking"
	TypeApproval     Type = "approval"
	TypeDecline      Type = "decline"
	TypePayment      Type = "payment"
	TypeStatusChange Type = "status_change"
	TypeReminder     Type = "reminder"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

type Status string

const (
	StatusUnread Status = "unread"
	StatusRead   Status = "read"
)

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Notification is one message to one stakeholder about one event. Only the
// read and delivery fields change after creation.
type Notification struct {
	ID             uuid.UUID      `json:"id"`
	RecipientID    uuid.UUID      `json:"recipient_id"`
	RecipientType  RecipientType  `json:"recipient_type"`
	Type           Type           `json:"type"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Priority       Priority       `json:"priority"`
	Status         Status         `json:"status"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	Attempts       int            `json:"attempts"`
	LastError      string         `json:"last_error,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	ReadAt         *time.Time     `json:"read_at,omitempty"`
}

// Reminder windows ahead of the appointment start.
const (
	Window24h   = "24h"
	Window2h    = "2h"
	Window30min = "30min"
)

// ReminderWindows maps each window label to its lead time.
var ReminderWindows = []struct {
	Label string
	Lead  time.Duration
}{
	{Window24h, 24 * time.Hour},
	{Window2h, 2 * time.Hour},
	{Window30min, 30 * time.Minute},
}
