package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-lifecycle/internal/appointment"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/lifecycle"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/payment"
)

const (
	actorHeader  = "X-Actor-ID"
	defaultLimit = 20
	maxLimit     = 100
)

func availableSlotsHandler(svc Service, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctorID")
		if !ok {
			return
		}
		date, err := time.ParseInLocation(time.DateOnly, r.URL.Query().Get("date"), loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, appointment.KindValidation, "date must be YYYY-MM-DD")
			return
		}
		writeResult(w, http.StatusOK, svc.GetAvailableSlots(r.Context(), doctorID, date))
	}
}

func reserveSlotHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req lifecycle.ReserveRequest
		if !decode(w, r, &req) {
			return
		}
		writeResult(w, http.StatusCreated, svc.ReserveSlot(r.Context(), req))
	}
}

func bookAppointmentHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorID(w, r)
		if !ok {
			return
		}
		var req lifecycle.BookRequest
		if !decode(w, r, &req) {
			return
		}
		writeResult(w, http.StatusCreated, svc.BookAppointment(r.Context(), actor, req))
	}
}

func getAppointmentHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		writeResult(w, http.StatusOK, svc.GetAppointment(r.Context(), id))
	}
}

func listPatientAppointmentsHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := uuidParam(w, r, "patientID")
		if !ok {
			return
		}
		limit, offset := pagination(r)
		writeResult(w, http.StatusOK, svc.ListPatientAppointments(r.Context(), patientID, limit, offset))
	}
}

// reasonHandler serves the transitions whose only input is an optional reason.
func reasonHandler(op func(ctx context.Context, id, actor uuid.UUID, reason string) lifecycle.Result) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, actor, ok := target(w, r)
		if !ok {
			return
		}
		var req ReasonRequest
		if !decodeOptional(w, r, &req) {
			return
		}
		writeResult(w, http.StatusOK, op(r.Context(), id, actor, req.Reason))
	}
}

func confirmHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, actor, ok := target(w, r)
		if !ok {
			return
		}
		writeResult(w, http.StatusOK, svc.ConfirmAppointment(r.Context(), id, actor))
	}
}

func startHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, actor, ok := target(w, r)
		if !ok {
			return
		}
		writeResult(w, http.StatusOK, svc.StartAppointment(r.Context(), id, actor))
	}
}

func rescheduleHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, actor, ok := target(w, r)
		if !ok {
			return
		}
		var req RescheduleRequest
		if !decode(w, r, &req) {
			return
		}
		writeResult(w, http.StatusOK, svc.RescheduleAppointment(r.Context(), id, actor, req.NewDateTime, req.Reason))
	}
}

func completeHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, actor, ok := target(w, r)
		if !ok {
			return
		}
		var req lifecycle.CompleteRequest
		if !decodeOptional(w, r, &req) {
			return
		}
		writeResult(w, http.StatusOK, svc.CompleteAppointment(r.Context(), id, actor, req))
	}
}

func noShowHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, actor, ok := target(w, r)
		if !ok {
			return
		}
		var req NoShowRequest
		if !decodeOptional(w, r, &req) {
			return
		}
		writeResult(w, http.StatusOK, svc.MarkNoShow(r.Context(), id, actor, req.Notes))
	}
}

func paymentHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, actor, ok := target(w, r)
		if !ok {
			return
		}
		var req PaymentRequest
		if !decode(w, r, &req) {
			return
		}
		writeResult(w, http.StatusOK, svc.ProcessPayment(r.Context(), id, actor, payment.Request{
			Method:      payment.Method(req.Method),
			AmountCents: req.AmountCents,
			Currency:    req.Currency,
		}))
	}
}

func listNotificationsHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recipientID, err := uuid.Parse(r.URL.Query().Get("recipient_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, appointment.KindValidation, "recipient_id must be a valid UUID")
			return
		}
		limit, _ := pagination(r)
		writeResult(w, http.StatusOK, svc.ListNotifications(r.Context(), recipientID, limit))
	}
}

func markNotificationReadHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		writeResult(w, http.StatusOK, svc.MarkNotificationRead(r.Context(), id))
	}
}

// Helpers

func target(w http.ResponseWriter, r *http.Request) (id, actor uuid.UUID, ok bool) {
	if id, ok = uuidParam(w, r, "id"); !ok {
		return
	}
	actor, ok = actorID(w, r)
	return
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, appointment.KindValidation, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// actorID reads the caller identity set by the upstream gateway. A missing
// header means the system itself.
func actorID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get(actorHeader)
	if raw == "" {
		return uuid.Nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, appointment.KindValidation, actorHeader+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, appointment.KindValidation, "could not parse JSON body")
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, appointment.KindValidation, "could not parse JSON body")
		return false
	}
	return true
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, maxLimit)
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func statusForKind(kind appointment.Kind) int {
	switch kind {
	case appointment.KindNotFound:
		return http.StatusNotFound
	case appointment.KindInvalidTransition,
		appointment.KindSlotNoLongerAvailable,
		appointment.KindAlreadyPaid,
		appointment.KindConflict:
		return http.StatusConflict
	case appointment.KindRescheduleLimitExceeded:
		return http.StatusUnprocessableEntity
	case appointment.KindPaymentFailed:
		return http.StatusPaymentRequired
	case appointment.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeResult(w http.ResponseWriter, okStatus int, res lifecycle.Result) {
	if !res.Success {
		writeJSON(w, statusForKind(res.Kind), res)
		return
	}
	writeJSON(w, okStatus, res)
}

func writeError(w http.ResponseWriter, status int, kind appointment.Kind, msg string) {
	writeJSON(w, status, ErrorResponse{Kind: string(kind), Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
