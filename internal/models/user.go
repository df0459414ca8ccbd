package models

import (
	"time"
)

// User is the identity created on first successful OTP verification. Tokens is not
// persisted with the identity: the ledger owns balances and fills it in on read.
type User struct {
	ID          string    `json:"id" dynamodbav:"id"`
	PhoneNumber string    `json:"phoneNumber" dynamodbav:"phone_number"`
	Tokens      int64     `json:"tokens" dynamodbav:"-"`
	CreatedAt   time.Time `json:"createdAt" dynamodbav:"created_at"`
	LastLogin   time.Time `json:"lastLogin" dynamodbav:"last_login"`
}

func (u *User) GetPK() string {
	return "USER!" + u.PhoneNumber
}

func (u *User) GetSK() string {
	return "METADATA"
}
