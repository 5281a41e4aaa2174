package models

import "time"

const (
	EventVerificationFailed  = "otp_verification_failed"
	EventEmergencyRecovery   = "emergency_recovery"
	EventAdminCodeRejected   = "admin_code_rejected"
	EventWalletLinked        = "wallet_linked"
	EventWalletLinkRejected  = "wallet_link_rejected"
	EventBackupDeleted       = "backup_deleted"
	EventClientTokenRejected = "client_token_rejected"
)

type SecurityEvent struct {
	EventID       string    `json:"event_id" db:"event_id"`
	EventBucket   int       `json:"event_bucket" db:"event_bucket"`
	EventDate     string    `json:"event_date" db:"event_date"`
	EventTime     time.Time `json:"event_time" db:"event_time"`
	EventType     string    `json:"event_type" db:"event_type"`
	Phone         string    `json:"phone" db:"phone"`
	WalletAddress string    `json:"wallet_address,omitempty" db:"wallet_address"`
	SessionID     string    `json:"session_id,omitempty" db:"session_id"`
	IPAddress     string    `json:"ip_address,omitempty" db:"ip_address"`
	RiskScore     int       `json:"risk_score" db:"risk_score"`
	Details       string    `json:"details,omitempty" db:"details"`
}
