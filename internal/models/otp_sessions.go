package models

import "time"

// Session is the short-lived authorization produced by a successful verification.
type Session struct {
	ID            string    `json:"id" db:"id"`
	SubjectPhone  string    `json:"subjectPhone" db:"subject_phone"`
	BoundKeyshare string    `json:"-" db:"bound_keyshare"`
	ExpiresAt     time.Time `json:"expiresAt" db:"expires_at"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
