package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-lifecycle/internal/appointment"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/lifecycle"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/payment"
	"github.com/hackgods/clinic-appointment-lifecycle/pkg/logging"
)

// stubService answers every call with result and records the arguments it
// was given. Methods not overridden here panic through the nil interface.
type stubService struct {
	Service
	result lifecycle.Result

	id      uuid.UUID
	actor   uuid.UUID
	reason  string
	date    time.Time
	limit   int
	offset  int
	payment payment.Request
	book    lifecycle.BookRequest
}

func (s *stubService) GetAvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) lifecycle.Result {
	s.id, s.date = doctorID, date
	return s.result
}

func (s *stubService) BookAppointment(ctx context.Context, actor uuid.UUID, req lifecycle.BookRequest) lifecycle.Result {
	s.actor, s.book = actor, req
	return s.result
}

func (s *stubService) ApproveAppointment(ctx context.Context, id, actor uuid.UUID, reason string) lifecycle.Result {
	s.id, s.actor, s.reason = id, actor, reason
	return s.result
}

func (s *stubService) CancelAppointment(ctx context.Context, id, actor uuid.UUID, reason string) lifecycle.Result {
	s.id, s.actor, s.reason = id, actor, reason
	return s.result
}

func (s *stubService) ProcessPayment(ctx context.Context, id, actor uuid.UUID, req payment.Request) lifecycle.Result {
	s.id, s.actor, s.payment = id, actor, req
	return s.result
}

func (s *stubService) ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) lifecycle.Result {
	s.id, s.limit, s.offset = patientID, limit, offset
	return s.result
}

func newTestRouter(svc Service) http.Handler {
	return NewRouter(RouterConfig{
		Service: svc,
		Logger:  logging.Discard(),
		Metrics: http.NotFoundHandler(),
	})
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind appointment.Kind
		want int
	}{
		{appointment.KindNotFound, http.StatusNotFound},
		{appointment.KindInvalidTransition, http.StatusConflict},
		{appointment.KindSlotNoLongerAvailable, http.StatusConflict},
		{appointment.KindAlreadyPaid, http.StatusConflict},
		{appointment.KindConflict, http.StatusConflict},
		{appointment.KindRescheduleLimitExceeded, http.StatusUnprocessableEntity},
		{appointment.KindPaymentFailed, http.StatusPaymentRequired},
		{appointment.KindValidation, http.StatusBadRequest},
		{appointment.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			svc := &stubService{result: lifecycle.Result{Kind: tt.kind, Message: "nope"}}
			rec, body := do(t, newTestRouter(svc), http.MethodPost, "/appointments/"+uuid.NewString()+"/approve", "", nil)

			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, string(tt.kind), body["kind"])
			assert.Equal(t, "nope", body["message"])
		})
	}
}

func TestActorHeader(t *testing.T) {
	svc := &stubService{result: lifecycle.Result{Success: true, Message: "ok"}}
	h := newTestRouter(svc)
	id := uuid.New()
	actor := uuid.New()

	rec, _ := do(t, h, http.MethodPost, "/appointments/"+id.String()+"/cancel", `{"reason":"travel"}`,
		map[string]string{actorHeader: actor.String()})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, svc.id)
	assert.Equal(t, actor, svc.actor)
	assert.Equal(t, "travel", svc.reason)

	rec, _ = do(t, h, http.MethodPost, "/appointments/"+id.String()+"/cancel", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uuid.Nil, svc.actor, "no header means the system")

	svc.actor = actor
	rec, body := do(t, h, http.MethodPost, "/appointments/"+id.String()+"/cancel", "",
		map[string]string{actorHeader: "not-a-uuid"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(appointment.KindValidation), body["kind"])
	assert.Equal(t, actor, svc.actor, "service not called")
}

func TestBadInput(t *testing.T) {
	svc := &stubService{result: lifecycle.Result{Success: true}}
	h := newTestRouter(svc)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"bad appointment id", http.MethodGet, "/appointments/42", ""},
		{"bad doctor id", http.MethodGet, "/doctors/abc/slots?date=2024-01-15", ""},
		{"bad date", http.MethodGet, "/doctors/" + uuid.NewString() + "/slots?date=15-01-2024", ""},
		{"malformed json", http.MethodPost, "/appointments", "{"},
		{"missing payment body", http.MethodPost, "/appointments/" + uuid.NewString() + "/payment", ""},
		{"bad recipient", http.MethodGet, "/notifications?recipient_id=x", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, h, tt.method, tt.path, tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, string(appointment.KindValidation), body["kind"])
		})
	}
}

func TestBookAppointment_Created(t *testing.T) {
	svc := &stubService{result: lifecycle.Result{Success: true, Message: "appointment booked"}}
	h := newTestRouter(svc)
	patient, doctor := uuid.New(), uuid.New()

	body := `{"hold_token":"tok","patient_id":"` + patient.String() + `","doctor_id":"` + doctor.String() +
		`","date_time":"2024-01-15T10:00:00Z","type":"follow_up","requires_manager_approval":false}`
	rec, out := do(t, h, http.MethodPost, "/appointments", body, nil)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "tok", svc.book.HoldToken)
	assert.Equal(t, patient, svc.book.PatientID)
	assert.Equal(t, appointment.TypeFollowUp, svc.book.Type)
	require.NotNil(t, svc.book.RequiresManagerApproval)
	assert.False(t, *svc.book.RequiresManagerApproval)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestPaymentAndSlotsArguments(t *testing.T) {
	svc := &stubService{result: lifecycle.Result{Success: true}}
	h := newTestRouter(svc)

	rec, _ := do(t, h, http.MethodPost, "/appointments/"+uuid.NewString()+"/payment",
		`{"method":"wallet","amount_cents":4500,"currency":"eur"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payment.Request{Method: payment.MethodWallet, AmountCents: 4500, Currency: "eur"}, svc.payment)

	doctor := uuid.New()
	rec, _ = do(t, h, http.MethodGet, "/doctors/"+doctor.String()+"/slots?date=2024-01-15", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, doctor, svc.id)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), svc.date)
}

func TestPagination(t *testing.T) {
	svc := &stubService{result: lifecycle.Result{Success: true}}
	h := newTestRouter(svc)
	patient := uuid.New()

	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", 20, 0},
		{"?limit=5&offset=10", 5, 10},
		{"?limit=1000", 100, 0},
		{"?limit=-1&offset=-3", 20, 0},
	}
	for _, tt := range tests {
		rec, _ := do(t, h, http.MethodGet, "/patients/"+patient.String()+"/appointments"+tt.query, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, tt.wantLimit, svc.limit, tt.query)
		assert.Equal(t, tt.wantOffset, svc.offset, tt.query)
	}
}

func TestHealth(t *testing.T) {
	up := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("unreachable") }

	tests := []struct {
		name       string
		health     *HealthHandler
		wantCode   int
		wantStatus string
	}{
		{"all up", NewHealthHandler("test", "v1").Critical("postgres", up).Optional("redis", up), http.StatusOK, "ok"},
		{"optional down", NewHealthHandler("test", "v1").Critical("postgres", up).Optional("redis", down), http.StatusOK, "degraded"},
		{"critical down", NewHealthHandler("test", "v1").Critical("postgres", down).Optional("redis", up), http.StatusServiceUnavailable, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(RouterConfig{
				Service: &stubService{},
				Health:  tt.health,
				Logger:  logging.Discard(),
				Metrics: http.NotFoundHandler(),
			})

			rec, body := do(t, h, http.MethodGet, "/health/ready", "", nil)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantStatus, body["status"])
			assert.Equal(t, "v1", body["version"])

			rec, body = do(t, h, http.MethodGet, "/health/live", "", nil)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "ok", body["status"])
		})
	}
}

func TestRequestID(t *testing.T) {
	h := newTestRouter(&stubService{})

	rec, _ := do(t, h, http.MethodGet, "/health/live", "", map[string]string{"X-Request-ID": "req-123"})
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	rec, _ = do(t, h, http.MethodGet, "/health/live", "", map[string]string{"X-Request-ID": strings.Repeat("x", 65)})
	_, err := uuid.Parse(rec.Header().Get("X-Request-ID"))
	assert.NoError(t, err, "oversized ids are replaced")
}
