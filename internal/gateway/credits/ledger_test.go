package credits

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrmushfiq/llm0-gateway/internal/shared/database"
	"github.com/mrmushfiq/llm0-gateway/internal/shared/gateerr"
	"github.com/mrmushfiq/llm0-gateway/internal/shared/models"
)

type fakeStore struct {
	users    map[string]*models.User
	debitErr error
	debits   []float64
}

func (s *fakeStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	user, ok := s.users[userID]
	if !ok {
		return nil, errors.New("user not found")
	}
	return user, nil
}

func (s *fakeStore) DebitCredits(ctx context.Context, userID string, amount float64, requestID string) error {
	if s.debitErr != nil {
		return s.debitErr
	}
	s.debits = append(s.debits, amount)
	return nil
}

func TestCheckBalance(t *testing.T) {
	store := &fakeStore{users: map[string]*models.User{
		"funded": {ID: "funded", CreditBalance: 5.0},
		"broke":  {ID: "broke", CreditBalance: 0},
	}}
	ledger := NewLedger(store)

	assert.NoError(t, ledger.CheckBalance(context.Background(), "funded"))

	err := ledger.CheckBalance(context.Background(), "broke")
	require.Error(t, err)
	assert.Equal(t, gateerr.CodeInsufficientCredits, gateerr.From(err).Code)
}

func TestDebitZeroAmountIsNoOp(t *testing.T) {
	store := &fakeStore{}
	ledger := NewLedger(store)

	require.NoError(t, ledger.Debit(context.Background(), "user-1", 0, "req-1"))
	assert.Empty(t, store.debits)
}

func TestDebitPassesAmountThrough(t *testing.T) {
	store := &fakeStore{}
	ledger := NewLedger(store)

	require.NoError(t, ledger.Debit(context.Background(), "user-1", 0.042, "req-1"))
	assert.Equal(t, []float64{0.042}, store.debits)
}

func TestDebitMapsInsufficientCredits(t *testing.T) {
	store := &fakeStore{debitErr: database.ErrInsufficientCredits}
	ledger := NewLedger(store)

	err := ledger.Debit(context.Background(), "user-1", 1.5, "req-1")
	require.Error(t, err)
	assert.Equal(t, gateerr.CodeInsufficientCredits, gateerr.From(err).Code)
}

func TestDebitPropagatesStoreErrors(t *testing.T) {
	store := &fakeStore{debitErr: errors.New("connection reset")}
	ledger := NewLedger(store)

	err := ledger.Debit(context.Background(), "user-1", 1.5, "req-1")
	assert.EqualError(t, err, "connection reset")
}
