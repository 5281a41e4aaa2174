package service

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyless-recovery/internal/models"
)

func TestSendOTPLeavesOneValidCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := env.otp.SendOTP(ctx, testPhone)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, msgOTPSent, res.Message)
		env.clock.Advance(time.Second)
	}

	records := env.store.OTPs.All(testPhone)
	require.Len(t, records, 3)

	valid := 0
	for _, rec := range records {
		if rec.IsValid {
			valid++
			assert.Equal(t, env.sender.lastCode(t), rec.Code)
		}
		require.True(t, rec.HasKeyshare())
		assert.Regexp(t, hex64, *rec.Keyshare)
		assert.Equal(t, *records[0].Keyshare, *rec.Keyshare)
	}
	assert.Equal(t, 1, valid)
}

func TestConcurrentFirstSendsShareOneKeyshare(t *testing.T) {
	env := newTestEnv(t)
	const senders = 16

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.otp.SendOTP(context.Background(), testPhone)
			assert.NoError(t, err)
			assert.True(t, res != nil && res.Success)
		}()
	}
	wg.Wait()

	records := env.store.OTPs.All(testPhone)
	require.Len(t, records, senders)

	ledger, err := env.store.Ledger.Get(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Regexp(t, hex64, ledger)

	valid := 0
	for _, rec := range records {
		require.True(t, rec.HasKeyshare())
		assert.Equal(t, ledger, *rec.Keyshare)
		if rec.IsValid && !rec.IsEmergency {
			valid++
		}
	}
	assert.Equal(t, 1, valid)
}

func TestSendOTPCodeFormatAndExpiry(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.otp.SendOTP(context.Background(), testPhone)
	require.NoError(t, err)

	code := env.sender.lastCode(t)
	n, err := strconv.Atoi(code)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 100000)
	assert.LessOrEqual(t, n, 999999)
	assert.Equal(t, "Your verification code is: "+code+". Valid for 5 minutes.", env.sender.sent[0])

	rec := env.store.OTPs.All(testPhone)[0]
	assert.Equal(t, env.clock.Now().Add(5*time.Minute), rec.ExpiresAt)
	assert.False(t, rec.IsEmergency)
}

func TestSendOTPKeepsEmergencyAndOtherPhones(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	other := "+34699999999"
	now := env.clock.Now()

	require.NoError(t, env.store.OTPs.Insert(ctx, &models.OTPCode{
		Phone: testPhone, Code: models.EmergencyCode, IsValid: true, IsEmergency: true,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	_, err := env.otp.SendOTP(ctx, other)
	require.NoError(t, err)

	env.clock.Advance(time.Second)
	_, err = env.otp.SendOTP(ctx, testPhone)
	require.NoError(t, err)

	for _, rec := range env.store.OTPs.All(testPhone) {
		assert.True(t, rec.IsValid, "code %s", rec.Code)
	}
	require.Len(t, env.store.OTPs.All(other), 1)
	assert.True(t, env.store.OTPs.All(other)[0].IsValid)
}

func TestSendOTPRejectsMalformedPhone(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.otp.SendOTP(context.Background(), "612345678")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.ErrorIs(t, err, ErrInvalidPhone)
}

func TestSendOTPDeliveryFailure(t *testing.T) {
	env := newTestEnv(t)
	env.sender.err = errors.New("The 'To' number is not a valid phone number.")

	_, err := env.otp.SendOTP(context.Background(), testPhone)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, "The 'To' number is not a valid phone number.", err.Error())

	records := env.store.OTPs.All(testPhone)
	require.Len(t, records, 1)
	assert.False(t, records[0].IsValid)
}

func TestSendOTPDeliveryFailureSparesEmergencyCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.recover(t, testPhone)
	env.seedBackup(t, testWallet, testPhone)

	_, err := env.otp.EmergencyRecovery(ctx, EmergencyRecoveryRequest{
		Phone: testPhone, WalletAddress: testWallet, AdminCode: adminCode,
	})
	require.NoError(t, err)

	// 0x0A5791 + 100000 draws the same digits as the emergency code
	env.otp.entropy = bytes.NewReader([]byte{0x0A, 0x57, 0x91})
	env.sender.err = errors.New("carrier unavailable")

	_, err = env.otp.SendOTP(ctx, testPhone)
	require.ErrorIs(t, err, ErrInvalidRequest)

	var emergency, normal int
	for _, rec := range env.store.OTPs.All(testPhone) {
		if rec.Code != models.EmergencyCode {
			continue
		}
		if rec.IsEmergency {
			emergency++
			assert.True(t, rec.IsValid, "emergency code must stay valid")
		} else {
			normal++
			assert.False(t, rec.IsValid, "undelivered code must be invalidated")
		}
	}
	assert.Equal(t, 1, emergency)
	assert.Equal(t, 1, normal)

	env.sender.err = nil
	redeemed, err := env.otp.VerifyOTP(ctx, testPhone, models.EmergencyCode)
	require.NoError(t, err)
	assert.True(t, redeemed.Success)
}

func TestVerifyOTPHappyPath(t *testing.T) {
	env := newTestEnv(t)
	res := env.recover(t, testPhone)

	assert.Equal(t, msgOTPVerified, res.Message)
	assert.Regexp(t, hex64, res.Keyshare)
	require.NotEmpty(t, res.SessionID)

	claims, err := env.signer.Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, testPhone, claims.Subject)
	assert.Equal(t, testPhone, claims.ClientID)
	assert.Equal(t, "1.0.0", claims.AppVersion)
	assert.Equal(t, res.SessionID, claims.SessionID)
	assert.Equal(t, res.Keyshare, claims.Keyshare)

	rec := env.store.OTPs.All(testPhone)[0]
	assert.False(t, rec.IsValid)
	assert.Equal(t, res.Keyshare, *rec.Keyshare)

	session, err := env.store.Sessions.FindByID(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, testPhone, session.SubjectPhone)
	assert.Equal(t, res.Keyshare, session.BoundKeyshare)
	assert.Equal(t, env.clock.Now().Add(24*time.Hour), session.ExpiresAt)
}

func TestVerifyOTPIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.otp.SendOTP(context.Background(), testPhone)
	require.NoError(t, err)
	code := env.sender.lastCode(t)

	first, err := env.otp.VerifyOTP(context.Background(), testPhone, code)
	require.NoError(t, err)
	assert.True(t, first.Success)

	second, err := env.otp.VerifyOTP(context.Background(), testPhone, code)
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Equal(t, msgInvalidOTP, second.Message)
	assert.Empty(t, second.Token)
	assert.Contains(t, env.auditor.types(), models.EventVerificationFailed)
}

func TestVerifyOTPConcurrentRedemptionHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.otp.SendOTP(context.Background(), testPhone)
	require.NoError(t, err)
	code := env.sender.lastCode(t)

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.otp.VerifyOTP(context.Background(), testPhone, code)
			assert.NoError(t, err)
			if res != nil && res.Success {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestVerifyOTPExpiry(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
		want    bool
	}{
		{"just issued", 0, true},
		{"at expiry", 5 * time.Minute, true},
		{"after expiry", 5*time.Minute + time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			_, err := env.otp.SendOTP(context.Background(), testPhone)
			require.NoError(t, err)

			env.clock.Advance(tt.advance)
			res, err := env.otp.VerifyOTP(context.Background(), testPhone, env.sender.lastCode(t))
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Success)
		})
	}
}

func TestVerifyOTPWrongCodeOrPhone(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.otp.SendOTP(context.Background(), testPhone)
	require.NoError(t, err)
	code := env.sender.lastCode(t)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	res, err := env.otp.VerifyOTP(context.Background(), testPhone, wrong)
	require.NoError(t, err)
	assert.False(t, res.Success)

	res, err = env.otp.VerifyOTP(context.Background(), "+34600000000", code)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, msgInvalidOTP, res.Message)
}

func TestKeyshareIsStableAcrossRecoveries(t *testing.T) {
	env := newTestEnv(t)

	first := env.recover(t, testPhone)
	env.clock.Advance(time.Hour)
	second := env.recover(t, testPhone)

	assert.Equal(t, first.Keyshare, second.Keyshare)
	assert.NotEqual(t, first.SessionID, second.SessionID)

	other := env.recover(t, "+34699999999")
	assert.NotEqual(t, first.Keyshare, other.Keyshare)
}

func TestEmergencyRecovery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	verified := env.recover(t, testPhone)
	env.seedBackup(t, testWallet, testPhone)

	env.clock.Advance(time.Minute)
	res, err := env.otp.EmergencyRecovery(ctx, EmergencyRecoveryRequest{
		Phone: testPhone, WalletAddress: testWallet, AdminCode: adminCode,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, msgEmergencyRecovery, res.Message)
	assert.Equal(t, verified.Keyshare, res.Keyshare)
	assert.NotEmpty(t, res.Token)

	var emergency *models.OTPCode
	for _, rec := range env.store.OTPs.All(testPhone) {
		if rec.IsEmergency {
			emergency = rec
		}
	}
	require.NotNil(t, emergency)
	assert.Equal(t, models.EmergencyCode, emergency.Code)
	assert.True(t, emergency.IsValid)
	assert.Equal(t, env.clock.Now().Add(7*24*time.Hour), emergency.ExpiresAt)
	assert.Equal(t, verified.Keyshare, *emergency.Keyshare)

	backup, err := env.store.Backups.FindByWallet(ctx, testWallet)
	require.NoError(t, err)
	assert.Equal(t, models.BackupEmergencyRecovery, backup.Status)
	assert.Equal(t, env.clock.Now(), backup.UpdatedAt)
	assert.Contains(t, env.auditor.types(), models.EventEmergencyRecovery)

	// the emergency code survives a regular send and redeems once
	_, err = env.otp.SendOTP(ctx, testPhone)
	require.NoError(t, err)
	env.clock.Advance(6 * 24 * time.Hour)
	redeemed, err := env.otp.VerifyOTP(ctx, testPhone, models.EmergencyCode)
	require.NoError(t, err)
	assert.True(t, redeemed.Success)
	assert.Equal(t, verified.Keyshare, redeemed.Keyshare)
}

func TestEmergencyRecoveryRejections(t *testing.T) {
	tests := []struct {
		name      string
		adminCode string
		configure string
		wallet    string
		want      error
	}{
		{"wrong admin code", "guess", adminCode, testWallet, ErrInvalidAdminCode},
		{"empty admin code", "", adminCode, testWallet, ErrInvalidAdminCode},
		{"admin code not configured", "", "", testWallet, ErrInvalidAdminCode},
		{"wallet not paired with phone", adminCode, adminCode, "0x0000000000000000000000000000000000000001", ErrNoBackupForWallet},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.otp.cfg.AdminCode = tt.configure
			env.seedBackup(t, testWallet, testPhone)

			_, err := env.otp.EmergencyRecovery(context.Background(), EmergencyRecoveryRequest{
				Phone: testPhone, WalletAddress: tt.wallet, AdminCode: tt.adminCode,
			})
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Empty(t, env.store.OTPs.All(testPhone))

			backup, err := env.store.Backups.FindByWallet(context.Background(), testWallet)
			require.NoError(t, err)
			assert.Equal(t, models.BackupCompleted, backup.Status)
		})
	}
}

func TestCleanupExpired(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.otp.SendOTP(context.Background(), testPhone)
	require.NoError(t, err)

	deleted, err := env.otp.CleanupExpired(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	env.clock.Advance(2 * time.Hour)
	deleted, err = env.otp.CleanupExpired(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Empty(t, env.store.OTPs.All(testPhone))
}
