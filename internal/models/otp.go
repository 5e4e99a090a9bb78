package models

import "time"

type DeliveryMethod string

const (
	MethodSMS      DeliveryMethod = "sms"
	MethodTelegram DeliveryMethod = "telegram"
)

func (m DeliveryMethod) Valid() bool {
	return m == MethodSMS || m == MethodTelegram
}

// OTPRecord is the single active code issued to a phone number.
type OTPRecord struct {
	CodeHash  string         `json:"code_hash" dynamodbav:"CodeHash"`
	Phone     string         `json:"phone" dynamodbav:"Phone"`
	Method    DeliveryMethod `json:"method,omitempty" dynamodbav:"Method,omitempty"`
	Attempts  int            `json:"attempts" dynamodbav:"Attempts"`
	CreatedAt time.Time      `json:"created_at" dynamodbav:"CreatedAt"`
	ExpiresAt time.Time      `json:"expires_at" dynamodbav:"ExpiresAt"`
	Version   string         `json:"version,omitempty" dynamodbav:"Version"`
}

// Expired reports whether now is strictly past the record's expiry.
func (r *OTPRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
