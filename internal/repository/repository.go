// Package repository declares the persistence contracts used by the services.
// Implementations live in the scylla, memory and redis subpackages.
package repository

import (
	"context"
	"errors"
	"time"

	"keyless-recovery/internal/models"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrAlreadyExists   = errors.New("record already exists")
	ErrLockNotAcquired = errors.New("lock not acquired")
)

type OTPCodeRepository interface {
	// FindLatestWithKeyshare returns the newest record of phone carrying a keyshare, or ErrNotFound.
	FindLatestWithKeyshare(ctx context.Context, phone string) (*models.OTPCode, error)
	// FindValidUnexpired returns the newest valid record for (phone, code) with ExpiresAt >= now.
	FindValidUnexpired(ctx context.Context, phone, code string, now time.Time) (*models.OTPCode, error)
	// FindLatestByPhoneAndKeyshare ignores validity and expiry.
	FindLatestByPhoneAndKeyshare(ctx context.Context, phone, keyshare string) (*models.OTPCode, error)
	Insert(ctx context.Context, otp *models.OTPCode) error
	// InvalidateAllValidNonEmergency flips every valid, non-emergency record of phone to invalid.
	InvalidateAllValidNonEmergency(ctx context.Context, phone string) (int, error)
	// InvalidateByPhoneAndCode flips the phone's valid non-emergency records carrying code.
	InvalidateByPhoneAndCode(ctx context.Context, phone, code string) (int, error)
	// MarkUsedAndSetKeyshare invalidates otp and records keyshare on it, only if the
	// record is still valid. It returns false when another caller consumed it first.
	MarkUsedAndSetKeyshare(ctx context.Context, otp *models.OTPCode, keyshare string) (bool, error)
	// DeleteExpired removes records whose expiry is before olderThan.
	DeleteExpired(ctx context.Context, olderThan time.Time) (int, error)
}

type BackupRepository interface {
	FindByWalletAndPhone(ctx context.Context, wallet, phone string) (*models.KeylessBackup, error)
	FindByWallet(ctx context.Context, wallet string) (*models.KeylessBackup, error)
	FindByPhone(ctx context.Context, phone string) (*models.KeylessBackup, error)
	// UpsertByWallet creates onCreate when no backup exists for wallet, otherwise applies onUpdate.
	UpsertByWallet(ctx context.Context, wallet string, onCreate *models.KeylessBackup, onUpdate models.BackupPatch) (*models.KeylessBackup, error)
	UpdateStatus(ctx context.Context, wallet string, status models.BackupStatus, now time.Time) error
	DeleteByWallet(ctx context.Context, wallet string) error
}

type SessionRepository interface {
	Insert(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
}

// KeyshareLedger stores at most one keyshare per phone.
type KeyshareLedger interface {
	// Get returns the claimed keyshare of phone, or ErrNotFound.
	Get(ctx context.Context, phone string) (string, error)
	// Claim stores candidate if phone has no keyshare yet and returns the stored value,
	// which is the earlier winner when the phone was already claimed.
	Claim(ctx context.Context, phone, candidate string) (string, error)
}

// PhoneLocker serializes mutations of a single phone's OTP records.
type PhoneLocker interface {
	Lock(ctx context.Context, phone string) (unlock func(), err error)
}
