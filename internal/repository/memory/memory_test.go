package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyless-recovery/internal/bucketing"
	"keyless-recovery/internal/config"
	"keyless-recovery/internal/models"
	"keyless-recovery/internal/repository"
)

const phone = "+34612345678"

func strPtr(s string) *string { return &s }

func TestOTPRepositoryLatestOrdering(t *testing.T) {
	ctx := context.Background()
	repo := NewOTPRepository()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(ctx, &models.OTPCode{Phone: phone, Code: "111111", Keyshare: strPtr("old"), IsValid: true, CreatedAt: base, ExpiresAt: base.Add(time.Minute)}))
	require.NoError(t, repo.Insert(ctx, &models.OTPCode{Phone: phone, Code: "222222", Keyshare: strPtr("new"), IsValid: true, CreatedAt: base.Add(time.Second), ExpiresAt: base.Add(time.Minute)}))
	require.NoError(t, repo.Insert(ctx, &models.OTPCode{Phone: phone, Code: "333333", IsValid: true, CreatedAt: base.Add(2 * time.Second), ExpiresAt: base.Add(time.Minute)}))

	rec, err := repo.FindLatestWithKeyshare(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, "new", *rec.Keyshare)

	rec, err = repo.FindLatestByPhoneAndKeyshare(ctx, phone, "old")
	require.NoError(t, err)
	assert.Equal(t, "111111", rec.Code)

	_, err = repo.FindLatestWithKeyshare(ctx, "+15550000000")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestOTPRepositoryFindValidUnexpired(t *testing.T) {
	ctx := context.Background()
	repo := NewOTPRepository()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(ctx, &models.OTPCode{Phone: phone, Code: "123456", IsValid: true, CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute)}))

	_, err := repo.FindValidUnexpired(ctx, phone, "123456", now.Add(5*time.Minute))
	assert.NoError(t, err, "expiry instant itself is still usable")

	_, err = repo.FindValidUnexpired(ctx, phone, "123456", now.Add(5*time.Minute+time.Millisecond))
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = repo.FindValidUnexpired(ctx, phone, "654321", now)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestOTPRepositoryInvalidationScope(t *testing.T) {
	ctx := context.Background()
	repo := NewOTPRepository()
	now := time.Now().UTC()

	require.NoError(t, repo.Insert(ctx, &models.OTPCode{Phone: phone, Code: "111111", IsValid: true, CreatedAt: now, ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, repo.Insert(ctx, &models.OTPCode{Phone: phone, Code: models.EmergencyCode, IsValid: true, IsEmergency: true, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, repo.Insert(ctx, &models.OTPCode{Phone: "+15550000000", Code: "222222", IsValid: true, CreatedAt: now, ExpiresAt: now.Add(time.Minute)}))

	n, err := repo.InvalidateAllValidNonEmergency(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, rec := range repo.All(phone) {
		assert.Equal(t, rec.IsEmergency, rec.IsValid)
	}
	assert.True(t, repo.All("+15550000000")[0].IsValid)
}

func TestOTPRepositoryInvalidateByCodeSparesEmergency(t *testing.T) {
	ctx := context.Background()
	repo := NewOTPRepository()
	now := time.Now().UTC()

	require.NoError(t, repo.Insert(ctx, &models.OTPCode{Phone: phone, Code: models.EmergencyCode, IsValid: true, IsEmergency: true, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, repo.Insert(ctx, &models.OTPCode{Phone: phone, Code: models.EmergencyCode, IsValid: true, CreatedAt: now.Add(time.Second), ExpiresAt: now.Add(time.Minute)}))

	n, err := repo.InvalidateByPhoneAndCode(ctx, phone, models.EmergencyCode)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, rec := range repo.All(phone) {
		assert.Equal(t, rec.IsEmergency, rec.IsValid)
	}
}

func TestOTPRepositoryMarkUsedIsSingleUse(t *testing.T) {
	ctx := context.Background()
	repo := NewOTPRepository()
	now := time.Now().UTC()
	otp := &models.OTPCode{Phone: phone, Code: "123456", IsValid: true, CreatedAt: now, ExpiresAt: now.Add(time.Minute)}
	require.NoError(t, repo.Insert(ctx, otp))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.MarkUsedAndSetKeyshare(ctx, otp, "ks")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	rec := repo.All(phone)[0]
	assert.False(t, rec.IsValid)
	assert.Equal(t, "ks", *rec.Keyshare)
}

func TestOTPRepositoryDeleteExpired(t *testing.T) {
	ctx := context.Background()
	repo := NewOTPRepository()
	now := time.Now().UTC()

	require.NoError(t, repo.Insert(ctx, &models.OTPCode{Phone: phone, Code: "111111", CreatedAt: now, ExpiresAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, repo.Insert(ctx, &models.OTPCode{Phone: phone, Code: "222222", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}))

	n, err := repo.DeleteExpired(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, repo.All(phone), 1)
	assert.Equal(t, "222222", repo.All(phone)[0].Code)
}

func TestBackupRepositoryUpsert(t *testing.T) {
	ctx := context.Background()
	repo := NewBackupRepository()
	wallet := "0xde709f2102306220921060314715629080e2fb77"

	created, err := repo.UpsertByWallet(ctx, wallet,
		&models.KeylessBackup{Phone: phone, Status: models.BackupCompleted},
		models.BackupPatch{Phone: strPtr(phone)})
	require.NoError(t, err)
	assert.Equal(t, models.BackupCompleted, created.Status)
	assert.Equal(t, wallet, created.WalletAddress)

	other := "+15550000000"
	updated, err := repo.UpsertByWallet(ctx, wallet,
		&models.KeylessBackup{Phone: other, Status: models.BackupCompleted},
		models.BackupPatch{Phone: strPtr(other)})
	require.NoError(t, err)
	assert.Equal(t, other, updated.Phone)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))

	_, err = repo.FindByWalletAndPhone(ctx, wallet, phone)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	found, err := repo.FindByPhone(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, wallet, found.WalletAddress)

	require.NoError(t, repo.UpdateStatus(ctx, wallet, models.BackupEmergencyRecovery, time.Now()))
	found, err = repo.FindByWallet(ctx, wallet)
	require.NoError(t, err)
	assert.Equal(t, models.BackupEmergencyRecovery, found.Status)

	require.NoError(t, repo.DeleteByWallet(ctx, wallet))
	assert.ErrorIs(t, repo.DeleteByWallet(ctx, wallet), repository.ErrNotFound)
}

func TestKeyshareLedgerFirstClaimWins(t *testing.T) {
	ctx := context.Background()
	ledger := NewKeyshareLedger()

	_, err := ledger.Get(ctx, phone)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	won, err := ledger.Claim(ctx, phone, "first")
	require.NoError(t, err)
	assert.Equal(t, "first", won)

	won, err = ledger.Claim(ctx, phone, "second")
	require.NoError(t, err)
	assert.Equal(t, "first", won)
}

func TestStripedLockerExcludesAndHonorsContext(t *testing.T) {
	locker := NewStripedLocker(bucketing.NewBucketingManager(&config.Config{}))

	unlock, err := locker.Lock(context.Background(), phone)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, phone)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	unlock, err = locker.Lock(context.Background(), phone)
	require.NoError(t, err)
	unlock()
}

func TestSessionRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository()
	s := &models.Session{ID: "s1", SubjectPhone: phone, BoundKeyshare: "ks", ExpiresAt: time.Now().Add(time.Hour)}

	require.NoError(t, repo.Insert(ctx, s))
	assert.ErrorIs(t, repo.Insert(ctx, s), repository.ErrAlreadyExists)

	got, err := repo.FindByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, phone, got.SubjectPhone)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
