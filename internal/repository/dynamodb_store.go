package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/edlab/edlab/internal/apperr"
	"github.com/edlab/edlab/internal/models"
	"github.com/sirupsen/logrus"
)

// DynamoDBAPI is the subset of *dynamodb.Client the stores use.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// sortableTime is fixed width so lexical order of sort keys matches time order.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

func NewDynamoDBStores(client DynamoDBAPI, tableName string, logger *logrus.Logger) *Stores {
	return &Stores{
		Users:         NewDynamoDBUserStore(client, tableName, logger),
		OTPs:          NewDynamoDBOTPStore(client, tableName, logger),
		Ledger:        NewDynamoDBLedgerStore(client, tableName, logger),
		Sessions:      NewDynamoDBSessionStore(client, tableName, logger),
		RefreshTokens: NewDynamoDBRefreshTokenStore(client, tableName, logger),
	}
}

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

type DynamoDBUserStore struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
}

func NewDynamoDBUserStore(client DynamoDBAPI, tableName string, logger *logrus.Logger) *DynamoDBUserStore {
	return &DynamoDBUserStore{client: client, tableName: tableName, logger: logger}
}

func (r *DynamoDBUserStore) Get(ctx context.Context, phoneNumber string) (*models.User, error) {
	user := &models.User{PhoneNumber: phoneNumber}

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       itemKey(user.GetPK(), user.GetSK()),
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get user from DynamoDB")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if result.Item == nil {
		return nil, apperr.NotFound("User", phoneNumber)
	}

	var dbUser models.User
	if err := attributevalue.UnmarshalMap(result.Item, &dbUser); err != nil {
		r.logger.WithError(err).Error("Failed to unmarshal user from DynamoDB")
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &dbUser, nil
}

func (r *DynamoDBUserStore) Create(ctx context.Context, user *models.User) error {
	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		r.logger.WithError(err).Error("Failed to marshal user for DynamoDB")
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: user.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: user.GetSK()}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrAlreadyExists
		}
		r.logger.WithError(err).Error("Failed to create user in DynamoDB")
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *DynamoDBUserStore) UpdateLastLogin(ctx context.Context, phoneNumber string, at time.Time) error {
	user := &models.User{PhoneNumber: phoneNumber}

	lastLogin, err := attributevalue.Marshal(at)
	if err != nil {
		return fmt.Errorf("failed to marshal last login: %w", err)
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       itemKey(user.GetPK(), user.GetSK()),
		UpdateExpression:          aws.String("SET last_login = :last_login"),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":last_login": lastLogin},
	})
	if err != nil {
		if isConditionFailed(err) {
			return apperr.NotFound("User", phoneNumber)
		}
		r.logger.WithError(err).Error("Failed to update user in DynamoDB")
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

type DynamoDBOTPStore struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
}

func NewDynamoDBOTPStore(client DynamoDBAPI, tableName string, logger *logrus.Logger) *DynamoDBOTPStore {
	return &DynamoDBOTPStore{client: client, tableName: tableName, logger: logger}
}

func otpPK(phoneNumber string) string {
	return fmt.Sprintf("OTP#%s", phoneNumber)
}

// Put stores the challenge with a TTL attribute; the table's TTL sweeper
// removes it some time after otpRetention.
func (r *DynamoDBOTPStore) Put(ctx context.Context, otp models.OTPData) error {
	ttl := otp.ExpiresAt.Add(otpRetention).Unix()

	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: otpPK(otp.Phone)},
		"SK":        &types.AttributeValueMemberS{Value: "METADATA"},
		"OTPHash":   &types.AttributeValueMemberS{Value: otp.OTPHash},
		"Phone":     &types.AttributeValueMemberS{Value: otp.Phone},
		"CreatedAt": &types.AttributeValueMemberS{Value: otp.CreatedAt.Format(time.RFC3339Nano)},
		"ExpiresAt": &types.AttributeValueMemberS{Value: otp.ExpiresAt.Format(time.RFC3339Nano)},
		"TTL":       &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}

	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to store OTP in DynamoDB")
		return fmt.Errorf("failed to store OTP: %w", err)
	}
	return nil
}

func (r *DynamoDBOTPStore) Get(ctx context.Context, phoneNumber string) (*models.OTPData, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(otpPK(phoneNumber), "METADATA"),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}
	return decodeOTP(phoneNumber, result.Item)
}

// Take deletes the challenge and returns the deleted item. DynamoDB hands the
// old image to exactly one of several concurrent deletes.
func (r *DynamoDBOTPStore) Take(ctx context.Context, phoneNumber string) (*models.OTPData, error) {
	result, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(r.tableName),
		Key:          itemKey(otpPK(phoneNumber), "METADATA"),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to take OTP from DynamoDB")
		return nil, fmt.Errorf("failed to take OTP: %w", err)
	}
	return decodeOTP(phoneNumber, result.Attributes)
}

func decodeOTP(phoneNumber string, item map[string]types.AttributeValue) (*models.OTPData, error) {
	if len(item) == 0 {
		return nil, apperr.NotFound("OTP", phoneNumber)
	}

	var otp models.OTPData
	if err := attributevalue.UnmarshalMap(item, &otp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP data: %w", err)
	}
	return &otp, nil
}

// DynamoDBLedgerStore keeps one ACCOUNT item per phone holding the balance and
// one LEDGER item per transaction, sorted by time within the phone's partition.
type DynamoDBLedgerStore struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
}

func NewDynamoDBLedgerStore(client DynamoDBAPI, tableName string, logger *logrus.Logger) *DynamoDBLedgerStore {
	return &DynamoDBLedgerStore{client: client, tableName: tableName, logger: logger}
}

func accountPK(phoneNumber string) string {
	return "ACCOUNT!" + phoneNumber
}

func ledgerPK(phoneNumber string) string {
	return "LEDGER!" + phoneNumber
}

func ledgerSK(txn models.Transaction) string {
	return "TXN#" + txn.Timestamp.UTC().Format(sortableTime) + "#" + txn.ID
}

func (r *DynamoDBLedgerStore) Balance(ctx context.Context, phoneNumber string) (int64, bool, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(accountPK(phoneNumber), "BALANCE"),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to get balance: %w", err)
	}
	if result.Item == nil {
		return 0, false, nil
	}

	var acct struct {
		Balance int64 `dynamodbav:"balance"`
	}
	if err := attributevalue.UnmarshalMap(result.Item, &acct); err != nil {
		return 0, false, fmt.Errorf("failed to unmarshal balance: %w", err)
	}
	return acct.Balance, true, nil
}

// maxApplyAttempts bounds the optimistic retries of one ledger write.
const maxApplyAttempts = 5

// Apply reads the balance, computes the new one and writes it together with
// the transaction item in one TransactWriteItems call. The balance update is
// conditioned on the value that was read, so a concurrent writer cancels the
// transaction and Apply retries from a fresh read. The returned balance is
// exactly the value this call wrote.
func (r *DynamoDBLedgerStore) Apply(ctx context.Context, txn models.Transaction, initial int64) (int64, error) {
	txnItem, err := attributevalue.MarshalMap(txn)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal transaction: %w", err)
	}
	txnItem["PK"] = &types.AttributeValueMemberS{Value: ledgerPK(txn.PhoneNumber)}
	txnItem["SK"] = &types.AttributeValueMemberS{Value: ledgerSK(txn)}

	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		current, found, err := r.Balance(ctx, txn.PhoneNumber)
		if err != nil {
			return 0, err
		}
		if !found {
			current = initial
		}

		next, err := nextBalance(current, txn)
		if err != nil {
			return current, err
		}

		_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				{Update: balanceUpdate(r.tableName, txn, current, next, found)},
				{Put: &types.Put{
					TableName:           aws.String(r.tableName),
					Item:                txnItem,
					ConditionExpression: aws.String("attribute_not_exists(SK)"),
				}},
			},
		})
		if err == nil {
			return next, nil
		}
		if !balanceChanged(err) {
			r.logger.WithError(err).WithField("phone", txn.PhoneNumber).Error("Failed to apply ledger transaction in DynamoDB")
			return 0, fmt.Errorf("failed to apply transaction: %w", err)
		}
		r.logger.WithFields(logrus.Fields{
			"phone":   txn.PhoneNumber,
			"attempt": attempt,
		}).Debug("Balance changed during ledger write, retrying")
	}
	return 0, fmt.Errorf("failed to apply transaction: balance for %s kept changing after %d attempts", txn.PhoneNumber, maxApplyAttempts)
}

// balanceUpdate sets the balance to next, guarded on the balance still being
// current (or still absent when the account has never been written).
func balanceUpdate(tableName string, txn models.Transaction, current, next int64, found bool) *types.Update {
	update := &types.Update{
		TableName:        aws.String(tableName),
		Key:              itemKey(accountPK(txn.PhoneNumber), "BALANCE"),
		UpdateExpression: aws.String("SET balance = :next, updated_at = :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":next": &types.AttributeValueMemberN{Value: strconv.FormatInt(next, 10)},
			":now":  &types.AttributeValueMemberS{Value: txn.Timestamp.UTC().Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_not_exists(balance)"),
	}
	if found {
		update.ConditionExpression = aws.String("balance = :expected")
		update.ExpressionAttributeValues[":expected"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(current, 10)}
	}
	return update
}

// balanceChanged reports whether the transaction was cancelled by the balance
// guard, as opposed to any other failure.
func balanceChanged(err error) bool {
	var canceled *types.TransactionCanceledException
	return errors.As(err, &canceled) && len(canceled.CancellationReasons) > 0 &&
		aws.ToString(canceled.CancellationReasons[0].Code) == "ConditionalCheckFailed"
}

func (r *DynamoDBLedgerStore) History(ctx context.Context, phoneNumber string, limit int) ([]models.Transaction, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: ledgerPK(phoneNumber)},
			":prefix": &types.AttributeValueMemberS{Value: "TXN#"},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}

	result, err := r.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction history: %w", err)
	}

	txns := make([]models.Transaction, 0, len(result.Items))
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &txns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transactions: %w", err)
	}
	return txns, nil
}

type DynamoDBSessionStore struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
}

func NewDynamoDBSessionStore(client DynamoDBAPI, tableName string, logger *logrus.Logger) *DynamoDBSessionStore {
	return &DynamoDBSessionStore{client: client, tableName: tableName, logger: logger}
}

func sessionPK(id string) string {
	return "SESSION!" + id
}

func (r *DynamoDBSessionStore) put(ctx context.Context, session models.LabSession, condition string) error {
	item, err := attributevalue.MarshalMap(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: sessionPK(session.ID)}
	item["SK"] = &types.AttributeValueMemberS{Value: "METADATA"}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String(condition),
	})
	return err
}

func (r *DynamoDBSessionStore) Create(ctx context.Context, session models.LabSession) error {
	if err := r.put(ctx, session, "attribute_not_exists(PK)"); err != nil {
		if isConditionFailed(err) {
			return ErrAlreadyExists
		}
		r.logger.WithError(err).Error("Failed to store session in DynamoDB")
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (r *DynamoDBSessionStore) Get(ctx context.Context, id string) (*models.LabSession, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       itemKey(sessionPK(id), "METADATA"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if result.Item == nil {
		return nil, apperr.NotFound("Session", id)
	}

	var session models.LabSession
	if err := attributevalue.UnmarshalMap(result.Item, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (r *DynamoDBSessionStore) Update(ctx context.Context, session models.LabSession) error {
	if err := r.put(ctx, session, "attribute_exists(PK)"); err != nil {
		if isConditionFailed(err) {
			return apperr.NotFound("Session", session.ID)
		}
		r.logger.WithError(err).Error("Failed to update session in DynamoDB")
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// ListByPhone scans with a filter; there is no per-phone index on sessions.
func (r *DynamoDBSessionStore) ListByPhone(ctx context.Context, phoneNumber string) ([]models.LabSession, error) {
	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		FilterExpression: aws.String("begins_with(PK, :pk_prefix) AND phone_number = :phone"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk_prefix": &types.AttributeValueMemberS{Value: "SESSION!"},
			":phone":     &types.AttributeValueMemberS{Value: phoneNumber},
		},
	})

	sessions := make([]models.LabSession, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sessions: %w", err)
		}

		var batch []models.LabSession
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sessions: %w", err)
		}
		sessions = append(sessions, batch...)
	}
	return sessions, nil
}

type DynamoDBRefreshTokenStore struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
}

func NewDynamoDBRefreshTokenStore(client DynamoDBAPI, tableName string, logger *logrus.Logger) *DynamoDBRefreshTokenStore {
	return &DynamoDBRefreshTokenStore{client: client, tableName: tableName, logger: logger}
}

func refreshTokenPK(jti string) string {
	return fmt.Sprintf("REFRESH_TOKEN#%s", jti)
}

func (r *DynamoDBRefreshTokenStore) Store(ctx context.Context, token models.RefreshTokenData) error {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: refreshTokenPK(token.JTI)},
		"SK":        &types.AttributeValueMemberS{Value: "METADATA"},
		"JTI":       &types.AttributeValueMemberS{Value: token.JTI},
		"UserID":    &types.AttributeValueMemberS{Value: token.UserID},
		"Phone":     &types.AttributeValueMemberS{Value: token.Phone},
		"FamilyID":  &types.AttributeValueMemberS{Value: token.FamilyID},
		"Revoked":   &types.AttributeValueMemberBOOL{Value: token.Revoked},
		"CreatedAt": &types.AttributeValueMemberS{Value: token.CreatedAt.Format(time.RFC3339Nano)},
		"ExpiresAt": &types.AttributeValueMemberS{Value: token.ExpiresAt.Format(time.RFC3339Nano)},
		"TTL":       &types.AttributeValueMemberN{Value: strconv.FormatInt(token.ExpiresAt.Unix(), 10)},
	}

	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to store refresh token in DynamoDB")
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

func (r *DynamoDBRefreshTokenStore) Get(ctx context.Context, jti string) (*models.RefreshTokenData, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       itemKey(refreshTokenPK(jti), "METADATA"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	if result.Item == nil {
		return nil, apperr.NotFound("Refresh token", jti)
	}

	var token models.RefreshTokenData
	if err := attributevalue.UnmarshalMap(result.Item, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token data: %w", err)
	}
	return &token, nil
}

func (r *DynamoDBRefreshTokenStore) Revoke(ctx context.Context, jti string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 itemKey(refreshTokenPK(jti), "METADATA"),
		UpdateExpression:    aws.String("SET Revoked = :revoked"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":revoked": &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return apperr.NotFound("Refresh token", jti)
		}
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

func (r *DynamoDBRefreshTokenStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	token, err := r.Get(ctx, jti)
	if err != nil {
		if apperr.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return token.Revoked, nil
}
