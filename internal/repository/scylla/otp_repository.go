package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"keyless-recovery/internal/models"
	"keyless-recovery/internal/repository"
	"keyless-recovery/internal/util"
)

const (
	otpColumns = `id, phone, code, keyshare, is_valid, is_emergency, expires_at, created_at`

	selectOTPsByPhone = `SELECT ` + otpColumns + ` FROM otp_codes WHERE phone = ?`

	insertOTP = `INSERT INTO otp_codes (` + otpColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	invalidateOTP = `UPDATE otp_codes SET is_valid = false
		WHERE phone = ? AND created_at = ? AND id = ?`

	consumeOTP = `UPDATE otp_codes SET is_valid = false, keyshare = ?
		WHERE phone = ? AND created_at = ? AND id = ? IF is_valid = true`

	deleteOTP = `DELETE FROM otp_codes WHERE phone = ? AND created_at = ? AND id = ?`

	deleteBatchSize = 100
)

// OTPRepository stores codes partitioned by phone, newest first.
type OTPRepository struct {
	client *ScyllaClient
}

func NewOTPRepository(client *ScyllaClient) *OTPRepository {
	return &OTPRepository{client: client}
}

// firstMatch walks the phone's partition in clustering order and returns the
// first record accepted by keep.
func (r *OTPRepository) firstMatch(ctx context.Context, phone string, keep func(*models.OTPCode) bool) (*models.OTPCode, error) {
	iter := r.client.Query(ctx, selectOTPsByPhone, phone).Iter()

	for {
		otp := &models.OTPCode{}
		if !iter.Scan(&otp.ID, &otp.Phone, &otp.Code, &otp.Keyshare, &otp.IsValid,
			&otp.IsEmergency, &otp.ExpiresAt, &otp.CreatedAt) {
			break
		}
		if keep(otp) {
			_ = iter.Close()
			return otp, nil
		}
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to read otp codes: %w", err)
	}
	return nil, repository.ErrNotFound
}

func (r *OTPRepository) FindLatestWithKeyshare(ctx context.Context, phone string) (*models.OTPCode, error) {
	return r.firstMatch(ctx, phone, func(o *models.OTPCode) bool {
		return o.HasKeyshare()
	})
}

func (r *OTPRepository) FindValidUnexpired(ctx context.Context, phone, code string, now time.Time) (*models.OTPCode, error) {
	return r.firstMatch(ctx, phone, func(o *models.OTPCode) bool {
		return o.Code == code && o.IsUsable(now)
	})
}

func (r *OTPRepository) FindLatestByPhoneAndKeyshare(ctx context.Context, phone, keyshare string) (*models.OTPCode, error) {
	return r.firstMatch(ctx, phone, func(o *models.OTPCode) bool {
		return o.Keyshare != nil && *o.Keyshare == keyshare
	})
}

func (r *OTPRepository) Insert(ctx context.Context, otp *models.OTPCode) error {
	if otp.ID == "" {
		otp.ID = uuid.New().String()
	}
	if otp.CreatedAt.IsZero() {
		otp.CreatedAt = time.Now().UTC()
	}

	err := r.client.Query(ctx, insertOTP,
		otp.ID, otp.Phone, otp.Code, otp.Keyshare, otp.IsValid,
		otp.IsEmergency, otp.ExpiresAt, otp.CreatedAt).
		RetryPolicy(noRetry).
		Exec()
	if err != nil {
		util.Error("Failed to insert OTP code", util.Phone(otp.Phone), zap.Error(err))
		return fmt.Errorf("failed to insert OTP code: %w", err)
	}
	return nil
}

func (r *OTPRepository) InvalidateAllValidNonEmergency(ctx context.Context, phone string) (int, error) {
	return r.invalidateWhere(ctx, phone, func(o *models.OTPCode) bool {
		return o.IsValid && !o.IsEmergency
	})
}

func (r *OTPRepository) InvalidateByPhoneAndCode(ctx context.Context, phone, code string) (int, error) {
	return r.invalidateWhere(ctx, phone, func(o *models.OTPCode) bool {
		return o.IsValid && !o.IsEmergency && o.Code == code
	})
}

// invalidateWhere flips matching rows of one partition in a single logged batch.
func (r *OTPRepository) invalidateWhere(ctx context.Context, phone string, match func(*models.OTPCode) bool) (int, error) {
	iter := r.client.Query(ctx, selectOTPsByPhone, phone).Iter()

	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx).RetryPolicy(noRetry)
	count := 0
	for {
		otp := &models.OTPCode{}
		if !iter.Scan(&otp.ID, &otp.Phone, &otp.Code, &otp.Keyshare, &otp.IsValid,
			&otp.IsEmergency, &otp.ExpiresAt, &otp.CreatedAt) {
			break
		}
		if match(otp) {
			batch.Query(invalidateOTP, phone, otp.CreatedAt, otp.ID)
			count++
		}
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("failed to read otp codes: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to invalidate OTP codes", util.Phone(phone), zap.Error(err))
		return 0, fmt.Errorf("failed to invalidate OTP codes: %w", err)
	}
	return count, nil
}

func (r *OTPRepository) MarkUsedAndSetKeyshare(ctx context.Context, otp *models.OTPCode, keyshare string) (bool, error) {
	existing := map[string]interface{}{}
	applied, err := r.client.Query(ctx, consumeOTP, keyshare, otp.Phone, otp.CreatedAt, otp.ID).
		RetryPolicy(noRetry).
		MapScanCAS(existing)
	if err != nil {
		util.Error("Failed to consume OTP code", util.Phone(otp.Phone), zap.Error(err))
		return false, fmt.Errorf("failed to consume OTP code: %w", err)
	}
	return applied, nil
}

// DeleteExpired removes codes whose expiry is before olderThan, in unlogged
// batches. It scans the whole table and is meant for the background janitor.
func (r *OTPRepository) DeleteExpired(ctx context.Context, olderThan time.Time) (int, error) {
	iter := r.client.Query(ctx,
		`SELECT phone, created_at, id FROM otp_codes WHERE expires_at < ? ALLOW FILTERING`,
		olderThan).Iter()

	var (
		phone     string
		createdAt time.Time
		id        string
	)
	deleted := 0
	batch := r.client.Session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)

	flush := func() error {
		if batch.Size() == 0 {
			return nil
		}
		if err := r.client.ExecuteBatch(batch); err != nil {
			return err
		}
		deleted += batch.Size()
		batch = r.client.Session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
		return nil
	}

	for iter.Scan(&phone, &createdAt, &id) {
		batch.Query(deleteOTP, phone, createdAt, id)
		if batch.Size() >= deleteBatchSize {
			if err := flush(); err != nil {
				_ = iter.Close()
				return deleted, fmt.Errorf("failed to delete expired OTP codes: %w", err)
			}
		}
	}
	if err := flush(); err != nil {
		_ = iter.Close()
		return deleted, fmt.Errorf("failed to delete expired OTP codes: %w", err)
	}
	if err := iter.Close(); err != nil {
		return deleted, fmt.Errorf("failed to scan expired OTP codes: %w", err)
	}

	util.Info("Expired OTP codes deleted",
		util.Int("deleted_count", deleted),
		util.Time("older_than", olderThan))
	return deleted, nil
}
