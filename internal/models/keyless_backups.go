package models

import "time"

type BackupStatus string

const (
	BackupNotStarted        BackupStatus = "NotStarted"
	BackupCompleted         BackupStatus = "Completed"
	BackupEmergencyRecovery BackupStatus = "Emergency_Recovery"
)

type KeylessBackup struct {
	WalletAddress     string       `json:"walletAddress" db:"wallet_address"`
	Phone             string       `json:"phone,omitempty" db:"phone"`
	EncryptedMnemonic string       `json:"encryptedMnemonic,omitempty" db:"encrypted_mnemonic"`
	EncryptionAddress *string      `json:"encryptionAddress,omitempty" db:"encryption_address"`
	Status            BackupStatus `json:"status" db:"status"`
	Flow              *string      `json:"flow,omitempty" db:"flow"`
	Origin            *string      `json:"origin,omitempty" db:"origin"`
	CreatedAt         time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time    `json:"updatedAt" db:"updated_at"`
}

// BackupPatch lists the fields an upsert overwrites on an existing backup.
// Nil fields are left untouched.
type BackupPatch struct {
	Phone             *string
	EncryptedMnemonic *string
	EncryptionAddress *string
}

// Apply copies the set fields of p onto b and bumps UpdatedAt.
func (p BackupPatch) Apply(b *KeylessBackup, now time.Time) {
	if p.Phone != nil {
		b.Phone = *p.Phone
	}
	if p.EncryptedMnemonic != nil {
		b.EncryptedMnemonic = *p.EncryptedMnemonic
	}
	if p.EncryptionAddress != nil {
		v := *p.EncryptionAddress
		b.EncryptionAddress = &v
	}
	b.UpdatedAt = now
}
