package models

import "time"

// EmergencyCode is the fixed code written by an emergency recovery.
const EmergencyCode = "777777"

type OTPCode struct {
	ID          string    `json:"id" db:"id"`
	Phone       string    `json:"phone" db:"phone"`
	Code        string    `json:"-" db:"code"`
	Keyshare    *string   `json:"-" db:"keyshare"`
	IsValid     bool      `json:"isValid" db:"is_valid"`
	IsEmergency bool      `json:"isEmergency" db:"is_emergency"`
	ExpiresAt   time.Time `json:"expiresAt" db:"expires_at"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// HasKeyshare reports whether the record carries a non-empty keyshare.
func (o *OTPCode) HasKeyshare() bool {
	return o.Keyshare != nil && *o.Keyshare != ""
}

// IsUsable reports whether the code can still be redeemed at now.
func (o *OTPCode) IsUsable(now time.Time) bool {
	return o.IsValid && !now.After(o.ExpiresAt)
}
