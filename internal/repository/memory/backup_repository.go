package memory

import (
	"context"
	"sync"
	"time"

	"keyless-recovery/internal/models"
	"keyless-recovery/internal/repository"
)

type BackupRepository struct {
	mu       sync.RWMutex
	byWallet map[string]*models.KeylessBackup
	now      func() time.Time
}

func NewBackupRepository() *BackupRepository {
	return &BackupRepository{
		byWallet: make(map[string]*models.KeylessBackup),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *BackupRepository) FindByWalletAndPhone(ctx context.Context, wallet, phone string) (*models.KeylessBackup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.byWallet[wallet]
	if !ok || b.Phone != phone {
		return nil, repository.ErrNotFound
	}
	return cloneBackup(b), nil
}

func (r *BackupRepository) FindByWallet(ctx context.Context, wallet string) (*models.KeylessBackup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.byWallet[wallet]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneBackup(b), nil
}

// FindByPhone returns the most recently updated backup of phone.
func (r *BackupRepository) FindByPhone(ctx context.Context, phone string) (*models.KeylessBackup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *models.KeylessBackup
	for _, b := range r.byWallet {
		if b.Phone != phone {
			continue
		}
		if best == nil || b.UpdatedAt.After(best.UpdatedAt) {
			best = b
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	return cloneBackup(best), nil
}

func (r *BackupRepository) UpsertByWallet(ctx context.Context, wallet string, onCreate *models.KeylessBackup, onUpdate models.BackupPatch) (*models.KeylessBackup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.byWallet[wallet]; ok {
		onUpdate.Apply(existing, now)
		return cloneBackup(existing), nil
	}

	created := cloneBackup(onCreate)
	created.WalletAddress = wallet
	if created.CreatedAt.IsZero() {
		created.CreatedAt = now
	}
	if created.UpdatedAt.IsZero() {
		created.UpdatedAt = now
	}
	r.byWallet[wallet] = created
	return cloneBackup(created), nil
}

func (r *BackupRepository) UpdateStatus(ctx context.Context, wallet string, status models.BackupStatus, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byWallet[wallet]
	if !ok {
		return repository.ErrNotFound
	}
	b.Status = status
	b.UpdatedAt = now
	return nil
}

func (r *BackupRepository) DeleteByWallet(ctx context.Context, wallet string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byWallet[wallet]; !ok {
		return repository.ErrNotFound
	}
	delete(r.byWallet, wallet)
	return nil
}

func cloneBackup(b *models.KeylessBackup) *models.KeylessBackup {
	c := *b
	if b.EncryptionAddress != nil {
		v := *b.EncryptionAddress
		c.EncryptionAddress = &v
	}
	if b.Flow != nil {
		v := *b.Flow
		c.Flow = &v
	}
	if b.Origin != nil {
		v := *b.Origin
		c.Origin = &v
	}
	return &c
}
