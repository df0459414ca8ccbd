package models

import "time"

type TransactionType string

// MaxTokenAmount bounds every amount and balance. Values up to 2^53-1 stay
// exact as float64, which is how Redis Lua scripts see numbers.
const MaxTokenAmount int64 = 1<<53 - 1

const (
	TransactionRecharge  TransactionType = "recharge"
	TransactionDeduction TransactionType = "deduction"
)

// Transaction is an append-only ledger entry. Amount is always positive; Type
// decides the sign applied to the balance.
type Transaction struct {
	ID          string          `json:"id" dynamodbav:"id"`
	Type        TransactionType `json:"type" dynamodbav:"type"`
	PhoneNumber string          `json:"phoneNumber" dynamodbav:"phone_number"`
	Amount      int64           `json:"amount" dynamodbav:"amount"`
	Service     string          `json:"service,omitempty" dynamodbav:"service,omitempty"`
	Timestamp   time.Time       `json:"timestamp" dynamodbav:"timestamp"`
}

func (t Transaction) Delta() int64 {
	if t.Type == TransactionDeduction {
		return -t.Amount
	}
	return t.Amount
}
