package payment

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type Method string

const (
	MethodCard         Method = "card"
	MethodWallet       Method = "wallet"
	MethodBankTransfer Method = "bank_transfer"
	MethodCash         Method = "cash"
)

func (m Method) Valid() bool {
	switch m {
	case MethodCard, MethodWallet, MethodBankTransfer, MethodCash:
		return true
	}
	return false
}

// Attempt carries context about the charge for the outcome source.
type Attempt struct {
	AppointmentID  uuid.UUID
	PatientID      uuid.UUID
	Currency       string
	// IdempotencyKey is stable for one version of the appointment so a
	// provider can collapse repeated charges.
	IdempotencyKey string
}

// Outcome is the decision of a payment-outcome source.
type Outcome struct {
	Success        bool
	TransactionRef string
	Reason         string
}

// OutcomeSource decides whether a payment attempt succeeds.
type OutcomeSource interface {
	AttemptPayment(ctx context.Context, method Method, amountCents int64, attempt Attempt) (Outcome, error)
}

// DefaultSuccessRates are the simulated approval rates per method.
var DefaultSuccessRates = map[Method]float64{
	MethodCard:         0.95,
	MethodWallet:       0.98,
	MethodBankTransfer: 0.90,
	MethodCash:         0.97,
}

const otherMethodRate = 0.97

// SimulatedSource approves payments at random with per-method rates.
type SimulatedSource struct {
	mu    sync.Mutex
	rng   *rand.Rand
	rates map[Method]float64
}

// NewSimulatedSource builds a source seeded with seed. A nil rates map uses
// DefaultSuccessRates.
func NewSimulatedSource(seed int64, rates map[Method]float64) *SimulatedSource {
	if rates == nil {
		rates = DefaultSuccessRates
	}
	return &SimulatedSource{rng: rand.New(rand.NewSource(seed)), rates: rates}
}

func (s *SimulatedSource) AttemptPayment(ctx context.Context, method Method, amountCents int64, attempt Attempt) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	rate, ok := s.rates[method]
	if !ok {
		rate = otherMethodRate
	}

	s.mu.Lock()
	roll := s.rng.Float64()
	s.mu.Unlock()

	if roll >= rate {
		return Outcome{Success: false, Reason: fmt.Sprintf("%s payment declined by processor", method)}, nil
	}
	return Outcome{Success: true, TransactionRef: newTransactionRef()}, nil
}

// ApprovingSource accepts every payment.
type ApprovingSource struct{}

func (ApprovingSource) AttemptPayment(ctx context.Context, method Method, amountCents int64, attempt Attempt) (Outcome, error) {
	return Outcome{Success: true, TransactionRef: newTransactionRef()}, nil
}

func newTransactionRef() string {
	return "txn_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}
