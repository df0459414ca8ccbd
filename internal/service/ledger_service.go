package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/edlab/edlab/internal/apperr"
	"github.com/edlab/edlab/internal/config"
	"github.com/edlab/edlab/internal/events"
	"github.com/edlab/edlab/internal/metrics"
	"github.com/edlab/edlab/internal/models"
	"github.com/edlab/edlab/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LedgerService owns token balances. A phone with no stored balance reads as
// the configured default, which is also where its first transaction starts.
type LedgerService struct {
	store     repository.LedgerStore
	publisher events.Publisher
	metrics   *metrics.Metrics
	cfg       *config.LedgerConfig
	packages  []models.RechargePackage
	logger    *logrus.Logger
	now       func() time.Time
}

func NewLedgerService(
	store repository.LedgerStore,
	publisher events.Publisher,
	m *metrics.Metrics,
	cfg *config.LedgerConfig,
	logger *logrus.Logger,
) *LedgerService {
	return &LedgerService{
		store:     store,
		publisher: publisher,
		metrics:   m,
		cfg:       cfg,
		packages:  models.DefaultRechargePackages,
		logger:    logger,
		now:       time.Now,
	}
}

type transactionEvent struct {
	Transaction models.Transaction `json:"transaction"`
	Balance     int64              `json:"balance"`
}

// Balance never creates an account.
func (s *LedgerService) Balance(ctx context.Context, phoneNumber string) (int64, error) {
	balance, found, err := s.store.Balance(ctx, phoneNumber)
	if err != nil {
		return 0, err
	}
	if !found {
		return s.cfg.DefaultBalance, nil
	}
	return balance, nil
}

func (s *LedgerService) Recharge(ctx context.Context, phoneNumber string, amount int64) (int64, error) {
	txn, err := s.newTransaction(phoneNumber, models.TransactionRecharge, amount, "")
	if err != nil {
		return 0, err
	}

	balance, err := s.store.Apply(ctx, txn, s.cfg.DefaultBalance)
	if err != nil {
		return 0, err
	}

	s.metrics.TokensRecharged.Add(float64(amount))
	s.logger.WithFields(logrus.Fields{
		"phone":   txn.PhoneNumber,
		"amount":  amount,
		"balance": balance,
	}).Info("Tokens recharged")
	publish(ctx, s.publisher, s.logger, events.TypeLedgerTransaction, txn.PhoneNumber, txn.Timestamp, transactionEvent{Transaction: txn, Balance: balance})
	return balance, nil
}

// Deduct debits amount if the balance covers it. On shortfall the balance is
// untouched and an *apperr.InsufficientBalanceError is returned.
func (s *LedgerService) Deduct(ctx context.Context, phoneNumber string, amount int64, service string) (int64, error) {
	txn, err := s.newTransaction(phoneNumber, models.TransactionDeduction, amount, strings.TrimSpace(service))
	if err != nil {
		return 0, err
	}

	balance, err := s.store.Apply(ctx, txn, s.cfg.DefaultBalance)
	if err != nil {
		if insufficient, ok := apperr.AsInsufficientBalance(err); ok {
			s.metrics.InsufficientBalance.Inc()
			s.logger.WithFields(logrus.Fields{
				"phone":    txn.PhoneNumber,
				"balance":  insufficient.Current,
				"required": insufficient.Required,
			}).Info("Deduction rejected: insufficient tokens")
		}
		return 0, err
	}

	s.metrics.TokensDeducted.Add(float64(amount))
	s.logger.WithFields(logrus.Fields{
		"phone":   txn.PhoneNumber,
		"amount":  amount,
		"service": txn.Service,
		"balance": balance,
	}).Info("Tokens deducted")
	publish(ctx, s.publisher, s.logger, events.TypeLedgerTransaction, txn.PhoneNumber, txn.Timestamp, transactionEvent{Transaction: txn, Balance: balance})
	return balance, nil
}

// History returns the most recent transactions, newest first. Equal
// timestamps keep the store's order, which puts later appends first.
func (s *LedgerService) History(ctx context.Context, phoneNumber string) ([]models.Transaction, error) {
	txns, err := s.store.History(ctx, phoneNumber, s.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(txns, func(i, j int) bool {
		return txns[i].Timestamp.After(txns[j].Timestamp)
	})
	if len(txns) > s.cfg.HistoryLimit {
		txns = txns[:s.cfg.HistoryLimit]
	}
	if txns == nil {
		txns = []models.Transaction{}
	}
	return txns, nil
}

func (s *LedgerService) Packages() []models.RechargePackage {
	out := make([]models.RechargePackage, len(s.packages))
	copy(out, s.packages)
	return out
}

func (s *LedgerService) newTransaction(phoneNumber string, typ models.TransactionType, amount int64, service string) (models.Transaction, error) {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if phoneNumber == "" {
		return models.Transaction{}, apperr.Validation("phoneNumber", "Phone number is required")
	}
	if amount <= 0 {
		return models.Transaction{}, apperr.Validation("amount", "Amount must be a positive integer")
	}
	if amount > models.MaxTokenAmount {
		return models.Transaction{}, apperr.Validation("amount", fmt.Sprintf("Amount must not exceed %d", models.MaxTokenAmount))
	}

	return models.Transaction{
		ID:          "txn_" + uuid.New().String(),
		Type:        typ,
		PhoneNumber: phoneNumber,
		Amount:      amount,
		Service:     service,
		Timestamp:   s.now().UTC(),
	}, nil
}
