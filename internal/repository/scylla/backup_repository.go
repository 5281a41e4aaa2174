package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"keyless-recovery/internal/models"
	"keyless-recovery/internal/repository"
	"keyless-recovery/internal/util"
)

const (
	backupColumns = `wallet_address, phone, encrypted_mnemonic, encryption_address, status, flow, origin, created_at, updated_at`

	selectBackupByWallet = `SELECT ` + backupColumns + ` FROM keyless_backups WHERE wallet_address = ?`
	selectBackupsByPhone = `SELECT ` + backupColumns + ` FROM keyless_backups WHERE phone = ?`

	insertBackupIfAbsent = `INSERT INTO keyless_backups (` + backupColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`

	updateBackup = `UPDATE keyless_backups SET phone = ?, encrypted_mnemonic = ?, encryption_address = ?, updated_at = ?
		WHERE wallet_address = ? IF EXISTS`

	updateBackupStatus = `UPDATE keyless_backups SET status = ?, updated_at = ? WHERE wallet_address = ? IF EXISTS`

	deleteBackup = `DELETE FROM keyless_backups WHERE wallet_address = ? IF EXISTS`
)

type BackupRepository struct {
	client *ScyllaClient
	now    func() time.Time
}

func NewBackupRepository(client *ScyllaClient) *BackupRepository {
	return &BackupRepository{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBackup(s scanner) (*models.KeylessBackup, error) {
	b := &models.KeylessBackup{}
	var status string
	err := s.Scan(&b.WalletAddress, &b.Phone, &b.EncryptedMnemonic, &b.EncryptionAddress,
		&status, &b.Flow, &b.Origin, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = models.BackupStatus(status)
	return b, nil
}

func (r *BackupRepository) FindByWallet(ctx context.Context, wallet string) (*models.KeylessBackup, error) {
	b, err := scanBackup(r.client.Query(ctx, selectBackupByWallet, wallet))
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get backup by wallet: %w", err)
	}
	return b, nil
}

func (r *BackupRepository) FindByWalletAndPhone(ctx context.Context, wallet, phone string) (*models.KeylessBackup, error) {
	b, err := r.FindByWallet(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if b.Phone != phone {
		return nil, repository.ErrNotFound
	}
	return b, nil
}

// FindByPhone returns the most recently updated backup linked to phone.
func (r *BackupRepository) FindByPhone(ctx context.Context, phone string) (*models.KeylessBackup, error) {
	rows := r.client.Query(ctx, selectBackupsByPhone, phone).Iter().Scanner()

	var best *models.KeylessBackup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backup: %w", err)
		}
		if best == nil || b.UpdatedAt.After(best.UpdatedAt) {
			best = b
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get backups by phone: %w", err)
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	return best, nil
}

// UpsertByWallet tries an insert-if-absent first and falls back to a
// conditional update of the row that won.
func (r *BackupRepository) UpsertByWallet(ctx context.Context, wallet string, onCreate *models.KeylessBackup, onUpdate models.BackupPatch) (*models.KeylessBackup, error) {
	now := r.now()

	created := *onCreate
	created.WalletAddress = wallet
	created.CreatedAt = now
	created.UpdatedAt = now

	applied, existing, err := r.insertIfAbsent(ctx, &created)
	if err != nil {
		return nil, err
	}
	if applied {
		return &created, nil
	}

	onUpdate.Apply(existing, now)
	updated, err := r.client.Query(ctx, updateBackup,
		existing.Phone, existing.EncryptedMnemonic, existing.EncryptionAddress, existing.UpdatedAt, wallet).
		RetryPolicy(noRetry).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed to update backup", zap.String("wallet_address", wallet), zap.Error(err))
		return nil, fmt.Errorf("failed to update backup: %w", err)
	}
	if !updated {
		return nil, fmt.Errorf("backup for %s removed during update: %w", wallet, repository.ErrNotFound)
	}
	return existing, nil
}

func (r *BackupRepository) insertIfAbsent(ctx context.Context, b *models.KeylessBackup) (bool, *models.KeylessBackup, error) {
	row := map[string]interface{}{}
	applied, err := r.client.Query(ctx, insertBackupIfAbsent,
		b.WalletAddress, b.Phone, b.EncryptedMnemonic, b.EncryptionAddress, string(b.Status),
		b.Flow, b.Origin, b.CreatedAt, b.UpdatedAt).
		RetryPolicy(noRetry).
		MapScanCAS(row)
	if err != nil {
		util.Error("Failed to insert backup", zap.String("wallet_address", b.WalletAddress), zap.Error(err))
		return false, nil, fmt.Errorf("failed to insert backup: %w", err)
	}
	if applied {
		return true, nil, nil
	}
	return false, backupFromRow(row), nil
}

// backupFromRow decodes the current row returned by a rejected conditional write.
func backupFromRow(row map[string]interface{}) *models.KeylessBackup {
	text := func(col string) string {
		v, _ := row[col].(string)
		return v
	}
	optional := func(col string) *string {
		if v := text(col); v != "" {
			return &v
		}
		return nil
	}
	ts := func(col string) time.Time {
		v, _ := row[col].(time.Time)
		return v
	}

	return &models.KeylessBackup{
		WalletAddress:     text("wallet_address"),
		Phone:             text("phone"),
		EncryptedMnemonic: text("encrypted_mnemonic"),
		EncryptionAddress: optional("encryption_address"),
		Status:            models.BackupStatus(text("status")),
		Flow:              optional("flow"),
		Origin:            optional("origin"),
		CreatedAt:         ts("created_at"),
		UpdatedAt:         ts("updated_at"),
	}
}

func (r *BackupRepository) UpdateStatus(ctx context.Context, wallet string, status models.BackupStatus, now time.Time) error {
	applied, err := r.client.Query(ctx, updateBackupStatus, string(status), now, wallet).
		RetryPolicy(noRetry).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("failed to update backup status: %w", err)
	}
	if !applied {
		return repository.ErrNotFound
	}
	return nil
}

func (r *BackupRepository) DeleteByWallet(ctx context.Context, wallet string) error {
	applied, err := r.client.Query(ctx, deleteBackup, wallet).
		RetryPolicy(noRetry).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}
	if !applied {
		return repository.ErrNotFound
	}
	return nil
}
