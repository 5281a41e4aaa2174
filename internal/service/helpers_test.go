package service

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"keyless-recovery/internal/bucketing"
	"keyless-recovery/internal/config"
	"keyless-recovery/internal/events"
	"keyless-recovery/internal/models"
	"keyless-recovery/internal/repository/memory"
	"keyless-recovery/internal/token"
)

const (
	testPhone  = "+34612345678"
	testWallet = "0x52908400098527886E0F7030069857D2E4169EE7"
	adminCode  = "let-me-in"
)

var (
	codePattern = regexp.MustCompile(`\d{6}`)
	hex64       = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingSender struct {
	mu    sync.Mutex
	err   error
	sent  []string
	phone []string
}

func (s *recordingSender) Send(ctx context.Context, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.phone = append(s.phone, to)
	s.sent = append(s.sent, body)
	return nil
}

func (s *recordingSender) lastCode(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent)
	return codePattern.FindString(s.sent[len(s.sent)-1])
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAuditor) Record(ctx context.Context, evt *models.SecurityEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, evt.EventType)
}

func (a *recordingAuditor) types() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

type testEnv struct {
	store   *memory.Store
	sender  *recordingSender
	auditor *recordingAuditor
	clock   *fakeClock
	signer  *token.Signer
	otp     *OTPService
	backups *BackupService
	session *SessionService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{}
	store := memory.NewStore(bucketing.NewBucketingManager(cfg))
	signer, err := token.NewSigner(config.JWTConfig{Secret: "test-secret"})
	require.NoError(t, err)

	env := &testEnv{
		store:   store,
		sender:  &recordingSender{},
		auditor: &recordingAuditor{},
		clock:   &fakeClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)},
		signer:  signer,
	}

	otpCfg := config.OTPConfig{
		ExpirationMinutes: 5,
		AdminCode:         adminCode,
		EmergencyTTL:      7 * 24 * time.Hour,
		SessionTTL:        24 * time.Hour,
	}
	repos := Repositories{
		OTPs:     store.OTPs,
		Backups:  store.Backups,
		Sessions: store.Sessions,
		Ledger:   store.Ledger,
		Locker:   store.Locker,
	}

	f := NewServiceFactory(otpCfg, repos, signer, env.sender, events.NoopPublisher{}, env.auditor, zap.NewNop())
	env.session = f.SessionService()
	env.otp = f.OTPService()
	env.backups = f.BackupService()

	env.session.now = env.clock.Now
	env.otp.now = env.clock.Now
	env.backups.now = env.clock.Now
	return env
}

// recover runs a full send and verify cycle.
func (e *testEnv) recover(t *testing.T, phone string) *VerifyOTPResult {
	t.Helper()
	_, err := e.otp.SendOTP(context.Background(), phone)
	require.NoError(t, err)

	res, err := e.otp.VerifyOTP(context.Background(), phone, e.sender.lastCode(t))
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	return res
}

func (e *testEnv) seedBackup(t *testing.T, wallet, phone string) {
	t.Helper()
	now := e.clock.Now()
	_, err := e.store.Backups.UpsertByWallet(context.Background(), wallet, &models.KeylessBackup{
		WalletAddress:     wallet,
		Phone:             phone,
		EncryptedMnemonic: "cipher",
		Status:            models.BackupCompleted,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, models.BackupPatch{})
	require.NoError(t, err)
}
