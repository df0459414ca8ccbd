package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/edlab/edlab/internal/apperr"
	"github.com/edlab/edlab/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStores runs the behaviour every backend must share.
func testStores(t *testing.T, newStores func(t *testing.T) *Stores) {
	t.Run("users", func(t *testing.T) { testUserStore(t, newStores(t).Users) })
	t.Run("otps", func(t *testing.T) { testOTPStore(t, newStores(t).OTPs) })
	t.Run("otp concurrent take", func(t *testing.T) { testOTPTakeConcurrency(t, newStores(t).OTPs) })
	t.Run("ledger", func(t *testing.T) { testLedgerStore(t, newStores(t).Ledger) })
	t.Run("ledger ceiling", func(t *testing.T) { testLedgerCeiling(t, newStores(t).Ledger) })
	t.Run("ledger concurrent deductions", func(t *testing.T) { testLedgerConcurrency(t, newStores(t).Ledger) })
	t.Run("sessions", func(t *testing.T) { testSessionStore(t, newStores(t).Sessions) })
	t.Run("refresh tokens", func(t *testing.T) { testRefreshTokenStore(t, newStores(t).RefreshTokens) })
}

func testUserStore(t *testing.T, users UserStore) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := users.Get(ctx, "+15550001")
	assert.True(t, apperr.IsNotFound(err))

	u := &models.User{ID: "user_1", PhoneNumber: "+15550001", CreatedAt: now, LastLogin: now}
	require.NoError(t, users.Create(ctx, u))
	assert.ErrorIs(t, users.Create(ctx, u), ErrAlreadyExists)

	later := now.Add(time.Hour)
	require.NoError(t, users.UpdateLastLogin(ctx, "+15550001", later))

	got, err := users.Get(ctx, "+15550001")
	require.NoError(t, err)
	assert.Equal(t, "user_1", got.ID)
	assert.True(t, got.CreatedAt.Equal(now))
	assert.True(t, got.LastLogin.Equal(later))

	assert.True(t, apperr.IsNotFound(users.UpdateLastLogin(ctx, "+15559999", later)))
}

func testOTPStore(t *testing.T, otps OTPStore) {
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := otps.Get(ctx, "+15550001")
	assert.True(t, apperr.IsNotFound(err))

	require.NoError(t, otps.Put(ctx, models.OTPData{OTPHash: "first", Phone: "+15550001", CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute)}))
	require.NoError(t, otps.Put(ctx, models.OTPData{OTPHash: "second", Phone: "+15550001", CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute)}))

	got, err := otps.Get(ctx, "+15550001")
	require.NoError(t, err)
	assert.Equal(t, "second", got.OTPHash)

	taken, err := otps.Take(ctx, "+15550001")
	require.NoError(t, err)
	assert.Equal(t, "second", taken.OTPHash)
	_, err = otps.Get(ctx, "+15550001")
	assert.True(t, apperr.IsNotFound(err))

	_, err = otps.Take(ctx, "+15550001")
	assert.True(t, apperr.IsNotFound(err))
}

func testOTPTakeConcurrency(t *testing.T, otps OTPStore) {
	ctx := context.Background()
	const (
		rounds  = 20
		workers = 16
	)

	for round := 0; round < rounds; round++ {
		now := time.Now().UTC()
		require.NoError(t, otps.Put(ctx, models.OTPData{OTPHash: "h", Phone: "+15550001", CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute)}))

		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			mu    sync.Mutex
			taken int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := otps.Take(ctx, "+15550001")
				if err == nil {
					mu.Lock()
					taken++
					mu.Unlock()
					return
				}
				assert.True(t, apperr.IsNotFound(err), "unexpected error: %v", err)
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, 1, taken, "round %d: challenge handed out %d times", round, taken)
	}
}

func txn(id string, typ models.TransactionType, amount int64, at time.Time) models.Transaction {
	return models.Transaction{ID: id, Type: typ, PhoneNumber: "+15550001", Amount: amount, Timestamp: at}
}

func testLedgerStore(t *testing.T, ledger LedgerStore) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	_, found, err := ledger.Balance(ctx, "+15550001")
	require.NoError(t, err)
	assert.False(t, found)

	history, err := ledger.History(ctx, "+15550001", 20)
	require.NoError(t, err)
	assert.Empty(t, history)

	balance, err := ledger.Apply(ctx, txn("t1", models.TransactionRecharge, 50, base), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(150), balance)

	// initial only seeds an absent balance
	balance, err = ledger.Apply(ctx, txn("t2", models.TransactionDeduction, 30, base.Add(time.Second)), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(120), balance)

	balance, err = ledger.Apply(ctx, txn("t3", models.TransactionDeduction, 500, base.Add(2*time.Second)), 100)
	insufficient, ok := apperr.AsInsufficientBalance(err)
	require.True(t, ok, "expected insufficient balance, got %v", err)
	assert.Equal(t, int64(120), insufficient.Current)
	assert.Equal(t, int64(500), insufficient.Required)

	current, found, err := ledger.Balance(ctx, "+15550001")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(120), current)

	history, err = ledger.History(ctx, "+15550001", 20)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "t2", history[0].ID)
	assert.Equal(t, "t1", history[1].ID)

	history, err = ledger.History(ctx, "+15550001", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "t2", history[0].ID)

	// a first deduction larger than the initial balance writes nothing
	_, err = ledger.Apply(ctx, models.Transaction{ID: "t4", Type: models.TransactionDeduction, PhoneNumber: "+15550002", Amount: 150, Timestamp: base}, 100)
	insufficient, ok = apperr.AsInsufficientBalance(err)
	require.True(t, ok)
	assert.Equal(t, int64(100), insufficient.Current)
	_, found, err = ledger.Balance(ctx, "+15550002")
	require.NoError(t, err)
	assert.False(t, found)
}

func testLedgerCeiling(t *testing.T, ledger LedgerStore) {
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	balance, err := ledger.Apply(ctx, txn("big", models.TransactionRecharge, models.MaxTokenAmount-100, at), 100)
	require.NoError(t, err)
	assert.Equal(t, models.MaxTokenAmount, balance)

	stored, found, err := ledger.Balance(ctx, "+15550001")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, models.MaxTokenAmount, stored, "large balances are stored exactly")

	_, err = ledger.Apply(ctx, txn("over", models.TransactionRecharge, 1, at.Add(time.Second)), 100)
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "amount", verr.Field)

	balance, err = ledger.Apply(ctx, txn("spend", models.TransactionDeduction, models.MaxTokenAmount-7, at.Add(2*time.Second)), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(7), balance)

	history, err := ledger.History(ctx, "+15550001", 0)
	require.NoError(t, err)
	assert.Len(t, history, 2, "rejected transactions are not recorded")

	_, err = ledger.Apply(ctx, models.Transaction{ID: "huge", Type: models.TransactionRecharge, PhoneNumber: "+15550002", Amount: models.MaxTokenAmount + 1, Timestamp: at}, 100)
	require.ErrorAs(t, err, &verr)
	_, found, err = ledger.Balance(ctx, "+15550002")
	require.NoError(t, err)
	assert.False(t, found)
}

func testLedgerConcurrency(t *testing.T, ledger LedgerStore) {
	ctx := context.Background()
	const workers = 25

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledger.Apply(ctx, txn(fmt.Sprintf("c%d", i), models.TransactionDeduction, 10, time.Now()), 100)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			_, ok := apperr.AsInsufficientBalance(err)
			assert.True(t, ok, "unexpected error: %v", err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	balance, _, err := ledger.Balance(ctx, "+15550001")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	history, err := ledger.History(ctx, "+15550001", 0)
	require.NoError(t, err)
	assert.Len(t, history, 10)
}

func testSessionStore(t *testing.T, sessions SessionStore) {
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	s := models.LabSession{ID: "voice_1", Type: models.SessionVoice, PhoneNumber: "+15550001", Topic: "Math", StartTime: start, Status: models.SessionActive, TokensRequired: 10}
	require.NoError(t, sessions.Create(ctx, s))
	assert.ErrorIs(t, sessions.Create(ctx, s), ErrAlreadyExists)
	require.NoError(t, sessions.Create(ctx, models.LabSession{ID: "video_1", Type: models.SessionVideo, PhoneNumber: "+15550001", AgentType: "Science", StartTime: start, Status: models.SessionActive}))
	require.NoError(t, sessions.Create(ctx, models.LabSession{ID: "voice_2", Type: models.SessionVoice, PhoneNumber: "+15550002", StartTime: start, Status: models.SessionActive}))

	_, err := sessions.Get(ctx, "missing")
	assert.True(t, apperr.IsNotFound(err))

	s.Complete(start.Add(time.Minute))
	require.NoError(t, sessions.Update(ctx, s))

	got, err := sessions.Get(ctx, "voice_1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, got.Status)
	require.NotNil(t, got.Duration)
	assert.Equal(t, int64(60), *got.Duration)
	require.NotNil(t, got.EndTime)
	assert.True(t, got.EndTime.Equal(start.Add(time.Minute)))

	assert.True(t, apperr.IsNotFound(sessions.Update(ctx, models.LabSession{ID: "missing"})))

	list, err := sessions.ListByPhone(ctx, "+15550001")
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, l := range list {
		ids = append(ids, l.ID)
	}
	assert.ElementsMatch(t, []string{"voice_1", "video_1"}, ids)

	list, err = sessions.ListByPhone(ctx, "+15559999")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testRefreshTokenStore(t *testing.T, tokens RefreshTokenStore) {
	ctx := context.Background()
	now := time.Now().UTC()

	token := models.RefreshTokenData{JTI: "jti-1", UserID: "user_1", Phone: "+15550001", FamilyID: "fam-1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, tokens.Store(ctx, token))

	got, err := tokens.Get(ctx, "jti-1")
	require.NoError(t, err)
	assert.Equal(t, "fam-1", got.FamilyID)
	assert.False(t, got.Revoked)

	revoked, err := tokens.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, tokens.Revoke(ctx, "jti-1"))
	revoked, err = tokens.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	_, err = tokens.Get(ctx, "unknown")
	assert.True(t, apperr.IsNotFound(err))
	assert.True(t, apperr.IsNotFound(tokens.Revoke(ctx, "unknown")))
}
