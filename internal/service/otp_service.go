package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"keyless-recovery/internal/audit"
	"keyless-recovery/internal/config"
	"keyless-recovery/internal/events"
	"keyless-recovery/internal/keyshare"
	"keyless-recovery/internal/models"
	"keyless-recovery/internal/repository"
	"keyless-recovery/internal/sms"
	"keyless-recovery/internal/util"
)

const (
	msgOTPSent           = "OTP sent successfully"
	msgOTPVerified       = "OTP verified successfully"
	msgInvalidOTP        = "Invalid or expired OTP code"
	msgEmergencyRecovery = "Emergency recovery successful"

	codeMin   = 100000
	codeRange = 900000
)

type SendOTPResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// VerifyOTPResult carries Token, Keyshare and SessionID only on success.
type VerifyOTPResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Token     string `json:"token,omitempty"`
	Keyshare  string `json:"keyshare,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

type EmergencyRecoveryRequest struct {
	Phone         string `json:"phone"`
	WalletAddress string `json:"walletAddress"`
	AdminCode     string `json:"adminCode"`
}

type EmergencyRecoveryResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Keyshare  string `json:"keyshare"`
	Token     string `json:"token"`
	SessionID string `json:"sessionId"`
}

// OTPService issues, verifies and bypasses one-time codes.
type OTPService struct {
	otps      repository.OTPCodeRepository
	backups   repository.BackupRepository
	locker    repository.PhoneLocker
	resolver  *keyshare.Resolver
	sessions  *SessionService
	sender    sms.Sender
	publisher events.Publisher
	auditor   audit.Recorder
	cfg       config.OTPConfig
	logger    *zap.Logger
	now       func() time.Time
	entropy   io.Reader
}

func NewOTPService(
	cfg config.OTPConfig,
	repos Repositories,
	resolver *keyshare.Resolver,
	sessions *SessionService,
	sender sms.Sender,
	publisher events.Publisher,
	auditor audit.Recorder,
	logger *zap.Logger,
) *OTPService {
	return &OTPService{
		otps:      repos.OTPs,
		backups:   repos.Backups,
		locker:    repos.Locker,
		resolver:  resolver,
		sessions:  sessions,
		sender:    sender,
		publisher: publisher,
		auditor:   auditor,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		entropy:   rand.Reader,
	}
}

// SendOTP replaces the phone's outstanding code with a fresh one and texts it.
// The phone's keyshare is claimed before the code is stored, so every record
// written here carries it.
func (s *OTPService) SendOTP(ctx context.Context, phone string) (*SendOTPResult, error) {
	if !util.IsE164(phone) {
		return nil, ErrInvalidPhone
	}

	code, err := s.generateCode()
	if err != nil {
		return nil, err
	}

	ks, err := s.resolver.ClaimOrGet(ctx, phone)
	if err != nil {
		return nil, err
	}

	if err := s.replaceCode(ctx, phone, code, ks); err != nil {
		return nil, err
	}

	if err := s.sender.Send(ctx, phone, sms.VerificationMessage(code, s.cfg.ExpirationMinutes)); err != nil {
		s.logger.Error("Failed to send OTP", util.Phone(phone), util.ErrorField(err))
		if _, invErr := s.otps.InvalidateByPhoneAndCode(ctx, phone, code); invErr != nil {
			s.logger.Error("Failed to invalidate undelivered OTP", util.Phone(phone), util.ErrorField(invErr))
		}
		return nil, InvalidRequest(err.Error())
	}

	s.publisher.Publish(ctx, events.Event{Type: events.OTPSent, Phone: phone})
	s.logger.Info("OTP sent", util.Phone(phone))
	return &SendOTPResult{Success: true, Message: msgOTPSent}, nil
}

// replaceCode invalidates the phone's normal codes and stores the new one
// under the phone lock.
func (s *OTPService) replaceCode(ctx context.Context, phone, code, ks string) error {
	unlock, err := s.locker.Lock(ctx, phone)
	if err != nil {
		return fmt.Errorf("failed to lock phone: %w", err)
	}
	defer unlock()

	invalidated, err := s.otps.InvalidateAllValidNonEmergency(ctx, phone)
	if err != nil {
		return fmt.Errorf("failed to invalidate previous codes: %w", err)
	}
	if invalidated > 0 {
		s.logger.Debug("Invalidated previous codes", util.Phone(phone), util.Int("count", invalidated))
	}

	now := s.now().UTC()
	otp := &models.OTPCode{
		ID:        uuid.NewString(),
		Phone:     phone,
		Code:      code,
		Keyshare:  &ks,
		IsValid:   true,
		ExpiresAt: now.Add(s.cfg.Expiration()),
		CreatedAt: now,
	}
	if err := s.otps.Insert(ctx, otp); err != nil {
		return fmt.Errorf("failed to store OTP: %w", err)
	}
	return nil
}

// VerifyOTP redeems code for phone. A wrong, expired or already used code is
// a soft failure with a uniform message; store errors are returned.
func (s *OTPService) VerifyOTP(ctx context.Context, phone, code string) (*VerifyOTPResult, error) {
	otp, err := s.otps.FindValidUnexpired(ctx, phone, code, s.now().UTC())
	if errors.Is(err, repository.ErrNotFound) {
		s.rejectVerification(ctx, phone, "no matching code")
		return &VerifyOTPResult{Success: false, Message: msgInvalidOTP}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up OTP: %w", err)
	}

	ks, err := s.resolver.ClaimOrGet(ctx, phone)
	if err != nil {
		return nil, err
	}

	consumed, err := s.otps.MarkUsedAndSetKeyshare(ctx, otp, ks)
	if err != nil {
		return nil, fmt.Errorf("failed to mark OTP used: %w", err)
	}
	if !consumed {
		s.rejectVerification(ctx, phone, "code already used")
		return &VerifyOTPResult{Success: false, Message: msgInvalidOTP}, nil
	}

	session, err := s.sessions.CreateSession(ctx, ks, phone)
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, events.Event{Type: events.OTPVerified, Phone: phone, SessionID: session.SessionID})
	s.logger.Info("OTP verified", util.Phone(phone), util.Bool("emergency", otp.IsEmergency))

	return &VerifyOTPResult{
		Success:   true,
		Message:   msgOTPVerified,
		Token:     session.Token,
		Keyshare:  ks,
		SessionID: session.SessionID,
	}, nil
}

func (s *OTPService) rejectVerification(ctx context.Context, phone, reason string) {
	s.logger.Info("OTP verification failed", util.Phone(phone), util.String("reason", reason))
	s.auditor.Record(ctx, &models.SecurityEvent{
		EventType: models.EventVerificationFailed,
		Phone:     phone,
		Details:   reason,
	})
}

// EmergencyRecovery lets an operator holding the admin code recover the
// keyshare of a phone that has a backup for the given wallet. It leaves a
// long-lived emergency code behind and flags the backup.
func (s *OTPService) EmergencyRecovery(ctx context.Context, req EmergencyRecoveryRequest) (*EmergencyRecoveryResult, error) {
	if !s.adminCodeMatches(req.AdminCode) {
		s.logger.Warn("Emergency recovery rejected: bad admin code", util.Phone(req.Phone))
		s.auditor.Record(ctx, &models.SecurityEvent{
			EventType:     models.EventAdminCodeRejected,
			Phone:         req.Phone,
			WalletAddress: req.WalletAddress,
		})
		return nil, ErrInvalidAdminCode
	}

	if _, err := s.backups.FindByWalletAndPhone(ctx, req.WalletAddress, req.Phone); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoBackupForWallet
		}
		return nil, fmt.Errorf("failed to look up backup: %w", err)
	}

	ks, err := s.resolver.ClaimOrGet(ctx, req.Phone)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.otps.Insert(ctx, &models.OTPCode{
		ID:          uuid.NewString(),
		Phone:       req.Phone,
		Code:        models.EmergencyCode,
		Keyshare:    &ks,
		IsValid:     true,
		IsEmergency: true,
		ExpiresAt:   now.Add(s.cfg.EmergencyTTL),
		CreatedAt:   now,
	}); err != nil {
		return nil, fmt.Errorf("failed to store emergency code: %w", err)
	}

	session, err := s.sessions.CreateSession(ctx, ks, req.Phone)
	if err != nil {
		return nil, err
	}

	if err := s.backups.UpdateStatus(ctx, req.WalletAddress, models.BackupEmergencyRecovery, now); err != nil {
		return nil, fmt.Errorf("failed to flag backup: %w", err)
	}

	s.auditor.Record(ctx, &models.SecurityEvent{
		EventType:     models.EventEmergencyRecovery,
		Phone:         req.Phone,
		WalletAddress: req.WalletAddress,
		SessionID:     session.SessionID,
	})
	s.publisher.Publish(ctx, events.Event{
		Type:          events.EmergencyRecovery,
		Phone:         req.Phone,
		WalletAddress: req.WalletAddress,
		SessionID:     session.SessionID,
	})
	s.logger.Warn("Emergency recovery completed", util.Phone(req.Phone), util.String("wallet", req.WalletAddress))

	return &EmergencyRecoveryResult{
		Success:   true,
		Message:   msgEmergencyRecovery,
		Keyshare:  ks,
		Token:     session.Token,
		SessionID: session.SessionID,
	}, nil
}

// adminCodeMatches never accepts anything while no admin code is configured.
func (s *OTPService) adminCodeMatches(given string) bool {
	if s.cfg.AdminCode == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(s.cfg.AdminCode)) == 1
}

// generateCode returns a uniformly distributed six-digit code.
func (s *OTPService) generateCode() (string, error) {
	n, err := rand.Int(s.entropy, big.NewInt(codeRange))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

// CleanupExpired deletes codes that expired more than retention ago.
func (s *OTPService) CleanupExpired(ctx context.Context, retention time.Duration) (int, error) {
	deleted, err := s.otps.DeleteExpired(ctx, s.now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired codes: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("Deleted expired OTP codes", util.Int("count", deleted))
	}
	return deleted, nil
}
