package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edlab/edlab/internal/apperr"
	"github.com/edlab/edlab/internal/models"
)

// ErrAlreadyExists is returned by create operations when the key is taken.
var ErrAlreadyExists = errors.New("record already exists")

// Lookups of absent records return an *apperr.NotFoundError.

type UserStore interface {
	Get(ctx context.Context, phoneNumber string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, phoneNumber string, at time.Time) error
}

type OTPStore interface {
	// Put replaces any outstanding challenge for the phone.
	Put(ctx context.Context, otp models.OTPData) error
	Get(ctx context.Context, phoneNumber string) (*models.OTPData, error)
	// Take removes and returns the outstanding challenge in one step, so a
	// challenge is handed to at most one caller.
	Take(ctx context.Context, phoneNumber string) (*models.OTPData, error)
}

type LedgerStore interface {
	// Balance reports found=false for phones that have never been credited or debited.
	Balance(ctx context.Context, phoneNumber string) (balance int64, found bool, err error)
	// Apply atomically applies txn.Delta() to the balance, seeding an absent
	// balance with initial, and appends txn to the phone's history. If the
	// result would be negative nothing is written and an
	// *apperr.InsufficientBalanceError is returned.
	Apply(ctx context.Context, txn models.Transaction, initial int64) (int64, error)
	// History returns up to limit transactions, most recent first.
	History(ctx context.Context, phoneNumber string, limit int) ([]models.Transaction, error)
}

type SessionStore interface {
	Create(ctx context.Context, session models.LabSession) error
	Get(ctx context.Context, id string) (*models.LabSession, error)
	// Update overwrites an existing session.
	Update(ctx context.Context, session models.LabSession) error
	ListByPhone(ctx context.Context, phoneNumber string) ([]models.LabSession, error)
}

type RefreshTokenStore interface {
	Store(ctx context.Context, token models.RefreshTokenData) error
	Get(ctx context.Context, jti string) (*models.RefreshTokenData, error)
	Revoke(ctx context.Context, jti string) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Stores bundles one backend's implementations.
type Stores struct {
	Users         UserStore
	OTPs          OTPStore
	Ledger        LedgerStore
	Sessions      SessionStore
	RefreshTokens RefreshTokenStore
}

// nextBalance applies txn to current and keeps the result within
// [0, models.MaxTokenAmount]. A rejected transaction reports current unchanged.
func nextBalance(current int64, txn models.Transaction) (int64, error) {
	if err := checkAmount(txn); err != nil {
		return current, err
	}
	next := current + txn.Delta()
	if next < 0 {
		return current, &apperr.InsufficientBalanceError{Current: current, Required: txn.Amount}
	}
	if next > models.MaxTokenAmount {
		return current, balanceLimitError()
	}
	return next, nil
}

func checkAmount(txn models.Transaction) error {
	if txn.Amount <= 0 || txn.Amount > models.MaxTokenAmount {
		return apperr.Validation("amount", fmt.Sprintf("Amount must be between 1 and %d", models.MaxTokenAmount))
	}
	return nil
}

func balanceLimitError() error {
	return apperr.Validation("amount", fmt.Sprintf("Balance cannot exceed %d tokens", models.MaxTokenAmount))
}
