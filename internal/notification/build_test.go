package notification

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-lifecycle/internal/appointment"
)

var (
	testNow   = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	testStart = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
)

func sampleAppointment(status appointment.Status) appointment.Appointment {
	return appointment.Appointment{
		ID:          uuid.New(),
		PatientID:   uuid.New(),
		DoctorID:    uuid.New(),
		PatientName: "Ada Lovelace",
		DoctorName:  "Grace Hopper",
		DateTime:    testStart,
		Duration:    30,
		Type:        appointment.TypeConsultation,
		Priority:    appointment.PriorityRoutine,
		Status:      status,
	}
}

func byRecipient(ns []Notification) map[RecipientType]Notification {
	out := make(map[RecipientType]Notification, len(ns))
	for _, n := range ns {
		out[n.RecipientType] = n
	}
	return out
}

func TestEventFor(t *testing.T) {
	tests := []struct {
		op   appointment.Operation
		want Type
	}{
		{appointment.OpBook, TypeBooking},
		{appointment.OpApprove, TypeApproval},
		{appointment.OpDecline, TypeDecline},
		{appointment.OpRecordPayment, TypePayment},
		{appointment.OpConfirm, TypeStatusChange},
		{appointment.OpCancel, TypeStatusChange},
		{appointment.OpReschedule, TypeStatusChange},
		{appointment.OpMarkNoShow, TypeStatusChange},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			ev := EventFor(appointment.Event{Operation: tt.op})
			assert.Equal(t, tt.want, ev.Type)
			assert.Equal(t, tt.op, ev.Transition.Operation)
		})
	}
}

func TestBuild_PendingBookingAlsoTellsManager(t *testing.T) {
	a := sampleAppointment(appointment.StatusPendingApproval)
	manager := uuid.New()
	ev := EventFor(appointment.Event{Operation: appointment.OpBook, To: appointment.StatusPendingApproval})

	ns := Build(a, ev, BuildOptions{Now: testNow, ManagerID: manager})
	require.Len(t, ns, 3)

	got := byRecipient(ns)
	assert.Equal(t, a.PatientID, got[RecipientPatient].RecipientID)
	assert.Equal(t, a.DoctorID, got[RecipientDoctor].RecipientID)
	assert.Equal(t, manager, got[RecipientManager].RecipientID)
	assert.Equal(t, "Appointment awaiting review", got[RecipientManager].Title)
	assert.Contains(t, got[RecipientPatient].Message, "awaiting approval")
	assert.Contains(t, got[RecipientPatient].Message, "Dr. Grace Hopper")

	ids := map[uuid.UUID]bool{}
	for _, n := range ns {
		assert.Equal(t, StatusUnread, n.Status)
		assert.Equal(t, DeliveryPending, n.DeliveryStatus)
		assert.Equal(t, testNow, n.CreatedAt)
		assert.Equal(t, a.ID.String(), n.Data["appointment_id"])
		ids[n.ID] = true
	}
	assert.Len(t, ids, 3, "every notification gets its own id")
}

func TestBuild_AutoApprovedBookingSkipsManager(t *testing.T) {
	a := sampleAppointment(appointment.StatusApproved)
	ev := EventFor(appointment.Event{Operation: appointment.OpBook, To: appointment.StatusApproved})

	ns := Build(a, ev, BuildOptions{Now: testNow, ManagerID: uuid.New()})
	require.Len(t, ns, 2)
	assert.Contains(t, byRecipient(ns)[RecipientPatient].Message, "booked and approved")
}

func TestBuild_TransitionData(t *testing.T) {
	a := sampleAppointment(appointment.StatusCancelled)
	ev := EventFor(appointment.Event{
		Operation: appointment.OpCancel,
		From:      appointment.StatusConfirmed,
		To:        appointment.StatusCancelled,
	})
	ev.Extra = map[string]any{"refund_eligible": true}

	ns := Build(a, ev, BuildOptions{Now: testNow})
	require.Len(t, ns, 2)

	p := byRecipient(ns)[RecipientPatient]
	assert.Equal(t, "Appointment cancelled", p.Title)
	assert.Equal(t, PriorityHigh, p.Priority)
	assert.Equal(t, "cancel", p.Data["operation"])
	assert.Equal(t, "confirmed", p.Data["from_status"])
	assert.Equal(t, "cancelled", p.Data["to_status"])
	assert.Equal(t, true, p.Data["refund_eligible"])

	// Payloads are per notification.
	p.Data["operation"] = "mutated"
	assert.Equal(t, "cancel", byRecipient(ns)[RecipientDoctor].Data["operation"])
}

func TestBuild_Priorities(t *testing.T) {
	emergency := sampleAppointment(appointment.StatusApproved)
	emergency.Priority = appointment.PriorityEmergency

	tests := []struct {
		name string
		a    appointment.Appointment
		ev   Event
		want Priority
	}{
		{"decline", sampleAppointment(appointment.StatusDeclined), Event{Type: TypeDecline}, PriorityHigh},
		{"approval", sampleAppointment(appointment.StatusApproved), Event{Type: TypeApproval}, PriorityNormal},
		{"emergency approval", emergency, Event{Type: TypeApproval}, PriorityHigh},
		{"reminder 24h", sampleAppointment(appointment.StatusConfirmed), Event{Type: TypeReminder, Window: Window24h}, PriorityLow},
		{"reminder 2h", sampleAppointment(appointment.StatusConfirmed), Event{Type: TypeReminder, Window: Window2h}, PriorityNormal},
		{"reminder 30min", sampleAppointment(appointment.StatusConfirmed), Event{Type: TypeReminder, Window: Window30min}, PriorityHigh},
		{"no show", sampleAppointment(appointment.StatusNoShow),
			Event{Type: TypeStatusChange, Transition: appointment.Event{Operation: appointment.OpMarkNoShow, To: appointment.StatusNoShow}}, PriorityHigh},
		{"confirm", sampleAppointment(appointment.StatusConfirmed),
			Event{Type: TypeStatusChange, Transition: appointment.Event{Operation: appointment.OpConfirm, To: appointment.StatusConfirmed}}, PriorityNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ns := Build(tt.a, tt.ev, BuildOptions{Now: testNow})
			require.NotEmpty(t, ns)
			for _, n := range ns {
				assert.Equal(t, tt.want, n.Priority)
			}
		})
	}
}

func TestBuild_RendersInClinicTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("timezone database not available")
	}
	a := sampleAppointment(appointment.StatusApproved)
	ev := EventFor(appointment.Event{Operation: appointment.OpApprove, To: appointment.StatusApproved})

	ns := Build(a, ev, BuildOptions{Now: testNow, Location: ny})
	p := byRecipient(ns)[RecipientPatient]
	assert.Contains(t, p.Message, "Mon Jan 15, 2024 at 05:00 EST")
	assert.Equal(t, "2024-01-15T10:00:00Z", p.Data["date_time"])
}

func TestBuild_PaymentAmount(t *testing.T) {
	a := sampleAppointment(appointment.StatusApproved)
	a.Payment = appointment.PaymentState{Status: appointment.PaymentCompleted, AmountCents: 12050, Currency: "USD"}

	ns := Build(a, EventFor(appointment.Event{Operation: appointment.OpRecordPayment}), BuildOptions{Now: testNow})
	assert.Contains(t, byRecipient(ns)[RecipientPatient].Message, "120.50 USD")
}
