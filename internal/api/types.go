package api

import "time"

// ReasonRequest is the body for approve, decline and cancel.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

type RescheduleRequest struct {
	NewDateTime time.Time `json:"new_date_time"`
	Reason      string    `json:"reason"`
}

type NoShowRequest struct {
	Notes string `json:"notes"`
}

type PaymentRequest struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// ErrorResponse mirrors the failure shape of lifecycle.Result for errors
// raised before a request reaches the service.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
