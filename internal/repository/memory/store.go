// Package memory is a process-local record store for development and tests.
package memory

import "keyless-recovery/internal/bucketing"

type Store struct {
	OTPs     *OTPRepository
	Backups  *BackupRepository
	Sessions *SessionRepository
	Ledger   *KeyshareLedger
	Locker   *StripedLocker
}

func NewStore(buckets *bucketing.BucketingManager) *Store {
	return &Store{
		OTPs:     NewOTPRepository(),
		Backups:  NewBackupRepository(),
		Sessions: NewSessionRepository(),
		Ledger:   NewKeyshareLedger(),
		Locker:   NewStripedLocker(buckets),
	}
}
