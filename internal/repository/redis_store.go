package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edlab/edlab/internal/apperr"
	"github.com/edlab/edlab/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// otpRetention keeps expired challenges around long enough for Verify to
// report them as expired rather than missing.
const otpRetention = time.Minute

func NewRedisStores(client *redis.Client, logger *logrus.Logger) *Stores {
	return &Stores{
		Users:         NewRedisUserStore(client, logger),
		OTPs:          NewRedisOTPStore(client, logger),
		Ledger:        NewRedisLedgerStore(client, logger),
		Sessions:      NewRedisSessionStore(client, logger),
		RefreshTokens: NewRedisRefreshTokenStore(client, logger),
	}
}

type RedisUserStore struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisUserStore(client *redis.Client, logger *logrus.Logger) *RedisUserStore {
	return &RedisUserStore{client: client, logger: logger}
}

func userKey(phoneNumber string) string {
	return fmt.Sprintf("user:%s", phoneNumber)
}

func (s *RedisUserStore) Get(ctx context.Context, phoneNumber string) (*models.User, error) {
	dataJSON, err := s.client.Get(ctx, userKey(phoneNumber)).Result()
	if err == redis.Nil {
		return nil, apperr.NotFound("User", phoneNumber)
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to get user from Redis")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	var user models.User
	if err := json.Unmarshal([]byte(dataJSON), &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &user, nil
}

func (s *RedisUserStore) Create(ctx context.Context, user *models.User) error {
	dataJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	created, err := s.client.SetNX(ctx, userKey(user.PhoneNumber), dataJSON, 0).Result()
	if err != nil {
		s.logger.WithError(err).Error("Failed to create user in Redis")
		return fmt.Errorf("failed to create user: %w", err)
	}
	if !created {
		return ErrAlreadyExists
	}
	return nil
}

func (s *RedisUserStore) UpdateLastLogin(ctx context.Context, phoneNumber string, at time.Time) error {
	user, err := s.Get(ctx, phoneNumber)
	if err != nil {
		return err
	}
	user.LastLogin = at

	dataJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	if err := s.client.SetXX(ctx, userKey(phoneNumber), dataJSON, 0).Err(); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

type RedisOTPStore struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisOTPStore(client *redis.Client, logger *logrus.Logger) *RedisOTPStore {
	return &RedisOTPStore{client: client, logger: logger}
}

func otpKey(phoneNumber string) string {
	return fmt.Sprintf("otp:%s", phoneNumber)
}

func (s *RedisOTPStore) Put(ctx context.Context, otp models.OTPData) error {
	dataJSON, err := json.Marshal(otp)
	if err != nil {
		return fmt.Errorf("failed to marshal OTP data: %w", err)
	}

	ttl := time.Until(otp.ExpiresAt) + otpRetention
	if err := s.client.Set(ctx, otpKey(otp.Phone), dataJSON, ttl).Err(); err != nil {
		s.logger.WithError(err).Error("Failed to store OTP in Redis")
		return fmt.Errorf("failed to store OTP: %w", err)
	}
	return nil
}

func (s *RedisOTPStore) Get(ctx context.Context, phoneNumber string) (*models.OTPData, error) {
	return s.decode(phoneNumber, s.client.Get(ctx, otpKey(phoneNumber)))
}

// Take uses GETDEL so concurrent verifications cannot both read the challenge.
func (s *RedisOTPStore) Take(ctx context.Context, phoneNumber string) (*models.OTPData, error) {
	return s.decode(phoneNumber, s.client.GetDel(ctx, otpKey(phoneNumber)))
}

func (s *RedisOTPStore) decode(phoneNumber string, cmd *redis.StringCmd) (*models.OTPData, error) {
	dataJSON, err := cmd.Result()
	if err == redis.Nil {
		return nil, apperr.NotFound("OTP", phoneNumber)
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to read OTP from Redis")
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}

	var otp models.OTPData
	if err := json.Unmarshal([]byte(dataJSON), &otp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP data: %w", err)
	}
	return &otp, nil
}

// applyScript runs the balance check, the update and the history append as
// one Redis command. Balances are written with INCRBY so the stored value stays
// an exact integer. Returns {status, balance}: 1 applied, 0 insufficient,
// 2 over the ceiling.
var applyScript = redis.NewScript(`
local stored = redis.call('GET', KEYS[1])
local current = tonumber(stored or ARGV[1])
local nextBalance = current + tonumber(ARGV[2])
if nextBalance < 0 then
  return {0, current}
end
if nextBalance > tonumber(ARGV[4]) then
  return {2, current}
end
if not stored then
  redis.call('SET', KEYS[1], ARGV[1])
end
nextBalance = redis.call('INCRBY', KEYS[1], ARGV[2])
redis.call('LPUSH', KEYS[2], ARGV[3])
return {1, nextBalance}
`)

type RedisLedgerStore struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisLedgerStore(client *redis.Client, logger *logrus.Logger) *RedisLedgerStore {
	return &RedisLedgerStore{client: client, logger: logger}
}

func balanceKey(phoneNumber string) string {
	return fmt.Sprintf("ledger:balance:%s", phoneNumber)
}

func historyKey(phoneNumber string) string {
	return fmt.Sprintf("ledger:txns:%s", phoneNumber)
}

func (s *RedisLedgerStore) Balance(ctx context.Context, phoneNumber string) (int64, bool, error) {
	balance, err := s.client.Get(ctx, balanceKey(phoneNumber)).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, true, nil
}

func (s *RedisLedgerStore) Apply(ctx context.Context, txn models.Transaction, initial int64) (int64, error) {
	if err := checkAmount(txn); err != nil {
		return 0, err
	}
	txnJSON, err := json.Marshal(txn)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal transaction: %w", err)
	}

	keys := []string{balanceKey(txn.PhoneNumber), historyKey(txn.PhoneNumber)}
	res, err := applyScript.Run(ctx, s.client, keys, initial, txn.Delta(), string(txnJSON), models.MaxTokenAmount).Int64Slice()
	if err != nil {
		s.logger.WithError(err).WithField("phone", txn.PhoneNumber).Error("Failed to apply ledger transaction in Redis")
		return 0, fmt.Errorf("failed to apply transaction: %w", err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("unexpected ledger script reply: %v", res)
	}

	switch res[0] {
	case 0:
		return res[1], &apperr.InsufficientBalanceError{Current: res[1], Required: txn.Amount}
	case 2:
		return res[1], balanceLimitError()
	}
	return res[1], nil
}

func (s *RedisLedgerStore) History(ctx context.Context, phoneNumber string, limit int) ([]models.Transaction, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	items, err := s.client.LRange(ctx, historyKey(phoneNumber), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}

	out := make([]models.Transaction, 0, len(items))
	for _, item := range items {
		var txn models.Transaction
		if err := json.Unmarshal([]byte(item), &txn); err != nil {
			s.logger.WithError(err).Warn("Skipping unreadable ledger entry")
			continue
		}
		out = append(out, txn)
	}
	return out, nil
}

type RedisSessionStore struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisSessionStore(client *redis.Client, logger *logrus.Logger) *RedisSessionStore {
	return &RedisSessionStore{client: client, logger: logger}
}

func sessionKey(id string) string {
	return fmt.Sprintf("lab:session:%s", id)
}

func phoneSessionsKey(phoneNumber string) string {
	return fmt.Sprintf("lab:sessions:%s", phoneNumber)
}

func (s *RedisSessionStore) Create(ctx context.Context, session models.LabSession) error {
	dataJSON, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	created, err := s.client.SetNX(ctx, sessionKey(session.ID), dataJSON, 0).Result()
	if err != nil {
		s.logger.WithError(err).Error("Failed to store session in Redis")
		return fmt.Errorf("failed to store session: %w", err)
	}
	if !created {
		return ErrAlreadyExists
	}

	if err := s.client.SAdd(ctx, phoneSessionsKey(session.PhoneNumber), session.ID).Err(); err != nil {
		return fmt.Errorf("failed to index session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Get(ctx context.Context, id string) (*models.LabSession, error) {
	dataJSON, err := s.client.Get(ctx, sessionKey(id)).Result()
	if err == redis.Nil {
		return nil, apperr.NotFound("Session", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session models.LabSession
	if err := json.Unmarshal([]byte(dataJSON), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (s *RedisSessionStore) Update(ctx context.Context, session models.LabSession) error {
	dataJSON, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	updated, err := s.client.SetXX(ctx, sessionKey(session.ID), dataJSON, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if !updated {
		return apperr.NotFound("Session", session.ID)
	}
	return nil
}

func (s *RedisSessionStore) ListByPhone(ctx context.Context, phoneNumber string) ([]models.LabSession, error) {
	ids, err := s.client.SMembers(ctx, phoneSessionsKey(phoneNumber)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	out := make([]models.LabSession, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var session models.LabSession
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			s.logger.WithError(err).Warn("Skipping unreadable session")
			continue
		}
		out = append(out, session)
	}
	return out, nil
}

type RedisRefreshTokenStore struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisRefreshTokenStore(client *redis.Client, logger *logrus.Logger) *RedisRefreshTokenStore {
	return &RedisRefreshTokenStore{client: client, logger: logger}
}

func refreshTokenKey(jti string) string {
	return fmt.Sprintf("refresh_token:%s", jti)
}

func revokedTokenKey(jti string) string {
	return fmt.Sprintf("revoked_token:%s", jti)
}

func (s *RedisRefreshTokenStore) Store(ctx context.Context, token models.RefreshTokenData) error {
	dataJSON, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token data: %w", err)
	}

	if err := s.client.Set(ctx, refreshTokenKey(token.JTI), dataJSON, time.Until(token.ExpiresAt)).Err(); err != nil {
		s.logger.WithError(err).Error("Failed to store refresh token")
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

func (s *RedisRefreshTokenStore) Get(ctx context.Context, jti string) (*models.RefreshTokenData, error) {
	dataJSON, err := s.client.Get(ctx, refreshTokenKey(jti)).Result()
	if err == redis.Nil {
		return nil, apperr.NotFound("Refresh token", jti)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	var token models.RefreshTokenData
	if err := json.Unmarshal([]byte(dataJSON), &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token data: %w", err)
	}
	return &token, nil
}

func (s *RedisRefreshTokenStore) Revoke(ctx context.Context, jti string) error {
	token, err := s.Get(ctx, jti)
	if err != nil {
		return err
	}

	token.Revoked = true
	dataJSON, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token data: %w", err)
	}

	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, refreshTokenKey(jti), dataJSON, ttl)
		// separate marker so IsRevoked is a single EXISTS
		pipe.Set(ctx, revokedTokenKey(jti), "1", ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

func (s *RedisRefreshTokenStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	exists, err := s.client.Exists(ctx, revokedTokenKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// PingRedis checks connectivity the way the server does at startup.
func PingRedis(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
