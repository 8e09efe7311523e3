// Package credits guards the user credit balance. The balance is checked
// before dispatch and debited once per request id, only after the usage fact
// for that request has been durably recorded, so a crash between the two
// under-charges rather than over-charges.
package credits

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/mrmushfiq/llm0-gateway/internal/shared/database"
	"github.com/mrmushfiq/llm0-gateway/internal/shared/gateerr"
	"github.com/mrmushfiq/llm0-gateway/internal/shared/models"
)

// Store is the identity-store contract the ledger needs.
type Store interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	DebitCredits(ctx context.Context, userID string, amount float64, requestID string) error
}

// Ledger performs balance checks and idempotent debits.
type Ledger struct {
	store Store
}

// NewLedger creates a credit ledger over the identity store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// CheckBalance rejects users with an exhausted balance before any provider
// call is made.
func (l *Ledger) CheckBalance(ctx context.Context, userID string) error {
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.CreditBalance <= 0 {
		return gateerr.InsufficientCredits()
	}
	return nil
}

// Debit subtracts the computed usage cost from the user's balance, at most
// once per request id. A zero or negative amount is a no-op. When the
// balance cannot cover the amount, the debit is rejected but the response
// already produced for this request is still delivered; subsequent requests
// fail the balance pre-check.
func (l *Ledger) Debit(ctx context.Context, userID string, amount float64, requestID string) error {
	if amount <= 0 {
		return nil
	}

	err := l.store.DebitCredits(ctx, userID, amount, requestID)
	if err == nil {
		return nil
	}
	if errors.Is(err, database.ErrInsufficientCredits) {
		logrus.WithFields(logrus.Fields{
			"user_id":    userID,
			"request_id": requestID,
			"amount":     amount,
		}).Warn("debit exceeds remaining balance")
		return gateerr.InsufficientCredits()
	}
	return err
}
