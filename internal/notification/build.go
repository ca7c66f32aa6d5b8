package notification

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-lifecycle/internal/appointment"
)

// Event is what the dispatcher is asked to announce.
type Event struct {
	Type       Type
	Transition appointment.Event
	// Window is set for reminders: Window24h, Window2h or Window30min.
	Window string
	Extra  map[string]any
}

// EventFor maps a state machine transition onto its notification event.
func EventFor(ev appointment.Event) Event {
	t := TypeStatusChange
	switch ev.Operation {
	case appointment.OpBook:
		t = TypeBooking
	case appointment.OpApprove:
		t = TypeApproval
	case appointment.OpDecline:
		t = TypeDecline
	case appointment.OpRecordPayment:
		t = TypePayment
	}
	return Event{Type: t, Transition: ev}
}

// BuildOptions carries the capabilities Build needs so that it stays pure.
type BuildOptions struct {
	IDs      appointment.IDGenerator
	Now      time.Time
	Location *time.Location
	// ManagerID, when set, is told about bookings awaiting approval.
	ManagerID uuid.UUID
}

type recipient struct {
	id  uuid.UUID
	typ RecipientType
}

// Build returns one notification per stakeholder of ev.
func Build(a appointment.Appointment, ev Event, opts BuildOptions) []Notification {
	if opts.IDs == nil {
		opts.IDs = appointment.UUIDGenerator{}
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	when := a.DateTime.In(loc).Format("Mon Jan 2, 2006 at 15:04 MST")

	recipients := []recipient{
		{id: a.PatientID, typ: RecipientPatient},
		{id: a.DoctorID, typ: RecipientDoctor},
	}
	if ev.Type == TypeBooking && a.Status == appointment.StatusPendingApproval && opts.ManagerID != uuid.Nil {
		recipients = append(recipients, recipient{id: opts.ManagerID, typ: RecipientManager})
	}

	data := map[string]any{
		"appointment_id": a.ID.String(),
		"event":          string(ev.Type),
		"date_time":      a.DateTime.UTC().Format(time.RFC3339),
	}
	if ev.Transition.Operation != "" {
		data["operation"] = string(ev.Transition.Operation)
		data["to_status"] = string(ev.Transition.To)
		if ev.Transition.From != "" {
			data["from_status"] = string(ev.Transition.From)
		}
	}
	if ev.Window != "" {
		data["window"] = ev.Window
	}
	for k, v := range ev.Extra {
		data[k] = v
	}

	out := make([]Notification, 0, len(recipients))
	for _, r := range recipients {
		title, msg := render(a, ev, r.typ, when)
		payload := make(map[string]any, len(data))
		for k, v := range data {
			payload[k] = v
		}
		out = append(out, Notification{
			ID:             opts.IDs.NewID(),
			RecipientID:    r.id,
			RecipientType:  r.typ,
			Type:           ev.Type,
			Title:          title,
			Message:        msg,
			Priority:       priorityFor(a, ev),
			Status:         StatusUnread,
			DeliveryStatus: DeliveryPending,
			Data:           payload,
			CreatedAt:      opts.Now,
		})
	}
	return out
}

func render(a appointment.Appointment, ev Event, to RecipientType, when string) (title, msg string) {
	doctor := "Dr. " + a.DoctorName
	patient := a.PatientName

	switch ev.Type {
	case TypeBooking:
		title = "Appointment booked"
		switch to {
		case RecipientPatient:
			if a.Status == appointment.StatusApproved {
				msg = fmt.Sprintf("Your appointment with %s on %s is booked and approved.", doctor, when)
			} else {
				msg = fmt.Sprintf("Your appointment with %s on %s is booked and awaiting approval.", doctor, when)
			}
		case RecipientDoctor:
			msg = fmt.Sprintf("New appointment with %s on %s.", patient, when)
		default:
			title = "Appointment awaiting review"
			msg = fmt.Sprintf("%s requested an appointment with %s on %s.", patient, doctor, when)
		}

	case TypeApproval:
		title = "Appointment approved"
		if to == RecipientPatient {
			msg = fmt.Sprintf("Your appointment with %s on %s has been approved.", doctor, when)
		} else {
			msg = fmt.Sprintf("Your appointment with %s on %s has been approved.", patient, when)
		}

	case TypeDecline:
		title = "Appointment declined"
		reason := ""
		if a.Approval.Reason != "" {
			reason = " Reason: " + a.Approval.Reason
		}
		if to == RecipientPatient {
			msg = fmt.Sprintf("Your appointment request with %s on %s was declined.%s", doctor, when, reason)
		} else {
			msg = fmt.Sprintf("The appointment request from %s on %s was declined.%s", patient, when, reason)
		}

	case TypePayment:
		title = "Payment received"
		amount := formatAmount(a.Payment.AmountCents, a.Payment.Currency)
		if to == RecipientPatient {
			msg = fmt.Sprintf("We received your payment of %s for the appointment with %s on %s.", amount, doctor, when)
		} else {
			msg = fmt.Sprintf("%s paid %s for the appointment on %s.", patient, amount, when)
		}

	case TypeReminder:
		title = "Appointment reminder"
		if to == RecipientPatient {
			msg = fmt.Sprintf("Reminder: your appointment with %s starts in %s (%s).", doctor, ev.Window, when)
		} else {
			msg = fmt.Sprintf("Reminder: appointment with %s starts in %s (%s).", patient, ev.Window, when)
		}

	default:
		status := humanize(string(ev.Transition.To))
		if status == "" {
			status = humanize(string(a.Status))
		}
		title = "Appointment " + status
		if to == RecipientPatient {
			msg = fmt.Sprintf("Your appointment with %s on %s is now %s.", doctor, when, status)
		} else {
			msg = fmt.Sprintf("The appointment with %s on %s is now %s.", patient, when, status)
		}
		if ev.Transition.Operation == appointment.OpReschedule {
			title = "Appointment rescheduled"
			msg += " It was moved and needs approval again."
		}
	}
	return title, msg
}

func priorityFor(a appointment.Appointment, ev Event) Priority {
	switch ev.Type {
	case TypeDecline:
		return PriorityHigh
	case TypeReminder:
		switch ev.Window {
		case Window30min:
			return PriorityHigh
		case Window24h:
			return PriorityLow
		}
		return PriorityNormal
	case TypeStatusChange:
		if ev.Transition.To == appointment.StatusCancelled || ev.Transition.To == appointment.StatusNoShow {
			return PriorityHigh
		}
	}
	if a.Priority == appointment.PriorityEmergency {
		return PriorityHigh
	}
	return PriorityNormal
}

func humanize(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

func formatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, currency)
}
