package repository

import (
	"context"
	"sync"
	"time"

	"github.com/edlab/edlab/internal/apperr"
	"github.com/edlab/edlab/internal/models"
)

// NewMemoryStores returns process-local stores. State is lost on restart.
func NewMemoryStores() *Stores {
	return &Stores{
		Users:         NewMemoryUserStore(),
		OTPs:          NewMemoryOTPStore(),
		Ledger:        NewMemoryLedgerStore(),
		Sessions:      NewMemorySessionStore(),
		RefreshTokens: NewMemoryRefreshTokenStore(),
	}
}

type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*models.User)}
}

func (s *MemoryUserStore) Get(_ context.Context, phoneNumber string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[phoneNumber]
	if !ok {
		return nil, apperr.NotFound("User", phoneNumber)
	}
	out := *u
	return &out, nil
}

func (s *MemoryUserStore) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.PhoneNumber]; ok {
		return ErrAlreadyExists
	}
	u := *user
	s.users[user.PhoneNumber] = &u
	return nil
}

func (s *MemoryUserStore) UpdateLastLogin(_ context.Context, phoneNumber string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[phoneNumber]
	if !ok {
		return apperr.NotFound("User", phoneNumber)
	}
	u.LastLogin = at
	return nil
}

type MemoryOTPStore struct {
	mu   sync.Mutex
	otps map[string]models.OTPData
}

func NewMemoryOTPStore() *MemoryOTPStore {
	return &MemoryOTPStore{otps: make(map[string]models.OTPData)}
}

func (s *MemoryOTPStore) Put(_ context.Context, otp models.OTPData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.otps[otp.Phone] = otp
	return nil
}

func (s *MemoryOTPStore) Get(_ context.Context, phoneNumber string) (*models.OTPData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	otp, ok := s.otps[phoneNumber]
	if !ok {
		return nil, apperr.NotFound("OTP", phoneNumber)
	}
	return &otp, nil
}

func (s *MemoryOTPStore) Take(_ context.Context, phoneNumber string) (*models.OTPData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	otp, ok := s.otps[phoneNumber]
	if !ok {
		return nil, apperr.NotFound("OTP", phoneNumber)
	}
	delete(s.otps, phoneNumber)
	return &otp, nil
}

// account serializes every mutation for a single phone number.
type account struct {
	mu      sync.Mutex
	exists  bool
	balance int64
	txns    []models.Transaction
}

type MemoryLedgerStore struct {
	mu       sync.RWMutex
	accounts map[string]*account
}

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{accounts: make(map[string]*account)}
}

func (s *MemoryLedgerStore) lookup(phoneNumber string) (*account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[phoneNumber]
	return a, ok
}

func (s *MemoryLedgerStore) lookupOrAdd(phoneNumber string) *account {
	if a, ok := s.lookup(phoneNumber); ok {
		return a
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[phoneNumber]
	if !ok {
		a = &account{}
		s.accounts[phoneNumber] = a
	}
	return a
}

func (s *MemoryLedgerStore) Balance(_ context.Context, phoneNumber string) (int64, bool, error) {
	a, ok := s.lookup(phoneNumber)
	if !ok {
		return 0, false, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance, a.exists, nil
}

func (s *MemoryLedgerStore) Apply(_ context.Context, txn models.Transaction, initial int64) (int64, error) {
	a := s.lookupOrAdd(txn.PhoneNumber)

	a.mu.Lock()
	defer a.mu.Unlock()

	current := initial
	if a.exists {
		current = a.balance
	}

	next, err := nextBalance(current, txn)
	if err != nil {
		return current, err
	}

	a.exists = true
	a.balance = next
	a.txns = append(a.txns, txn)
	return next, nil
}

func (s *MemoryLedgerStore) History(_ context.Context, phoneNumber string, limit int) ([]models.Transaction, error) {
	a, ok := s.lookup(phoneNumber)
	if !ok {
		return []models.Transaction{}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.txns)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.Transaction, 0, n)
	for i := len(a.txns) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, a.txns[i])
	}
	return out, nil
}

type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]models.LabSession
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]models.LabSession)}
}

func (s *MemorySessionStore) Create(_ context.Context, session models.LabSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; ok {
		return ErrAlreadyExists
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (*models.LabSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, apperr.NotFound("Session", id)
	}
	return &session, nil
}

func (s *MemorySessionStore) Update(_ context.Context, session models.LabSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; !ok {
		return apperr.NotFound("Session", session.ID)
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *MemorySessionStore) ListByPhone(_ context.Context, phoneNumber string) ([]models.LabSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.LabSession, 0)
	for _, session := range s.sessions {
		if session.PhoneNumber == phoneNumber {
			out = append(out, session)
		}
	}
	return out, nil
}

type MemoryRefreshTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]models.RefreshTokenData
}

func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{tokens: make(map[string]models.RefreshTokenData)}
}

func (s *MemoryRefreshTokenStore) Store(_ context.Context, token models.RefreshTokenData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.JTI] = token
	return nil
}

func (s *MemoryRefreshTokenStore) Get(_ context.Context, jti string) (*models.RefreshTokenData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[jti]
	if !ok {
		return nil, apperr.NotFound("Refresh token", jti)
	}
	return &token, nil
}

func (s *MemoryRefreshTokenStore) Revoke(_ context.Context, jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[jti]
	if !ok {
		return apperr.NotFound("Refresh token", jti)
	}
	token.Revoked = true
	s.tokens[jti] = token
	return nil
}

func (s *MemoryRefreshTokenStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[jti]
	return ok && token.Revoked, nil
}
