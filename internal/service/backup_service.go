package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"keyless-recovery/internal/audit"
	"keyless-recovery/internal/events"
	"keyless-recovery/internal/models"
	"keyless-recovery/internal/repository"
	"keyless-recovery/internal/util"
)

type LinkWalletRequest struct {
	Phone         string `json:"phone"`
	WalletAddress string `json:"walletAddress"`
	Keyshare      string `json:"keyshare"`
}

type SaveBackupRequest struct {
	EncryptedMnemonic string  `json:"encryptedMnemonic"`
	EncryptionAddress *string `json:"encryptionAddress,omitempty"`
	Phone             *string `json:"phone,omitempty"`
	Flow              *string `json:"flow,omitempty"`
	Origin            *string `json:"origin,omitempty"`
}

type CheckPhoneResult struct {
	Exists        bool   `json:"exists"`
	WalletAddress string `json:"walletAddress,omitempty"`
	Phone         string `json:"phone,omitempty"`
}

// BackupService manages the wallet-keyed encrypted backups.
type BackupService struct {
	backups   repository.BackupRepository
	otps      repository.OTPCodeRepository
	sessions  *SessionService
	publisher events.Publisher
	auditor   audit.Recorder
	logger    *zap.Logger
	now       func() time.Time
}

func NewBackupService(
	repos Repositories,
	sessions *SessionService,
	publisher events.Publisher,
	auditor audit.Recorder,
	logger *zap.Logger,
) *BackupService {
	return &BackupService{
		backups:   repos.Backups,
		otps:      repos.OTPs,
		sessions:  sessions,
		publisher: publisher,
		auditor:   auditor,
		logger:    logger,
		now:       time.Now,
	}
}

// LinkWalletToPhone attaches phone to the wallet's backup, creating a
// completed backup when the wallet has none. The caller must hold a live
// session and prove the phone's keyshare.
func (s *BackupService) LinkWalletToPhone(ctx context.Context, req LinkWalletRequest, sessionID string) (*models.KeylessBackup, error) {
	session, err := s.sessions.Validate(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if _, err := s.otps.FindLatestByPhoneAndKeyshare(ctx, req.Phone, req.Keyshare); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up keyshare: %w", err)
		}
		s.auditor.Record(ctx, &models.SecurityEvent{
			EventType:     models.EventWalletLinkRejected,
			Phone:         req.Phone,
			WalletAddress: req.WalletAddress,
			SessionID:     session.ID,
		})
		return nil, ErrInvalidKeyshare
	}

	now := s.now().UTC()
	phone := req.Phone
	backup, err := s.backups.UpsertByWallet(ctx, req.WalletAddress,
		&models.KeylessBackup{
			WalletAddress: req.WalletAddress,
			Phone:         phone,
			Status:        models.BackupCompleted,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		models.BackupPatch{Phone: &phone},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to link wallet: %w", err)
	}

	s.auditor.Record(ctx, &models.SecurityEvent{
		EventType:     models.EventWalletLinked,
		Phone:         req.Phone,
		WalletAddress: req.WalletAddress,
		SessionID:     session.ID,
	})
	s.publisher.Publish(ctx, events.Event{
		Type:          events.WalletLinked,
		Phone:         req.Phone,
		WalletAddress: req.WalletAddress,
		SessionID:     session.ID,
	})
	s.logger.Info("Wallet linked to phone", util.Phone(req.Phone), util.String("wallet", req.WalletAddress))
	return backup, nil
}

// SaveBackup stores the encrypted mnemonic of wallet. New backups start as
// NotStarted; existing ones keep their status.
func (s *BackupService) SaveBackup(ctx context.Context, wallet string, req SaveBackupRequest) (*models.KeylessBackup, error) {
	if !util.IsWalletAddress(wallet) {
		return nil, ErrInvalidWallet
	}
	if req.EncryptedMnemonic == "" {
		return nil, ErrMissingMnemonic
	}
	if req.Phone != nil && !util.IsE164(*req.Phone) {
		return nil, ErrInvalidPhone
	}

	now := s.now().UTC()
	created := &models.KeylessBackup{
		WalletAddress:     wallet,
		EncryptedMnemonic: req.EncryptedMnemonic,
		EncryptionAddress: req.EncryptionAddress,
		Status:            models.BackupNotStarted,
		Flow:              sanitized(req.Flow),
		Origin:            sanitized(req.Origin),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if req.Phone != nil {
		created.Phone = *req.Phone
	}

	mnemonic := req.EncryptedMnemonic
	backup, err := s.backups.UpsertByWallet(ctx, wallet, created, models.BackupPatch{
		Phone:             req.Phone,
		EncryptedMnemonic: &mnemonic,
		EncryptionAddress: req.EncryptionAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save backup: %w", err)
	}

	s.publisher.Publish(ctx, events.Event{Type: events.BackupSaved, Phone: backup.Phone, WalletAddress: wallet})
	s.logger.Info("Backup saved", util.String("wallet", wallet), util.String("status", string(backup.Status)))
	return backup, nil
}

// GetByPhone returns the backup linked to phone.
func (s *BackupService) GetByPhone(ctx context.Context, phone string) (*models.KeylessBackup, error) {
	backup, err := s.backups.FindByPhone(ctx, phone)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrBackupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load backup: %w", err)
	}
	return backup, nil
}

// CheckPhone reports whether any backup is linked to phone. wallet is only
// logged.
func (s *BackupService) CheckPhone(ctx context.Context, phone, wallet string) (*CheckPhoneResult, error) {
	backup, err := s.backups.FindByPhone(ctx, phone)
	if errors.Is(err, repository.ErrNotFound) {
		return &CheckPhoneResult{Exists: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check phone: %w", err)
	}

	s.logger.Debug("Phone has a backup",
		util.Phone(phone),
		util.Bool("same_wallet", wallet != "" && wallet == backup.WalletAddress))
	return &CheckPhoneResult{
		Exists:        true,
		WalletAddress: backup.WalletAddress,
		Phone:         backup.Phone,
	}, nil
}

func (s *BackupService) DeleteBackup(ctx context.Context, wallet string) error {
	err := s.backups.DeleteByWallet(ctx, wallet)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrBackupNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}

	s.auditor.Record(ctx, &models.SecurityEvent{EventType: models.EventBackupDeleted, WalletAddress: wallet})
	s.publisher.Publish(ctx, events.Event{Type: events.BackupDeleted, WalletAddress: wallet})
	s.logger.Info("Backup deleted", util.String("wallet", wallet))
	return nil
}

func sanitized(s *string) *string {
	if s == nil {
		return nil
	}
	v := util.SanitizeInput(*s)
	return &v
}
