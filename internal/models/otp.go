package models

import "time"

// OTPData is the single outstanding challenge for a phone number.
type OTPData struct {
	OTPHash   string    `json:"otp_hash"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (o *OTPData) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}
