package service

import (
	"go.uber.org/zap"

	"keyless-recovery/internal/audit"
	"keyless-recovery/internal/config"
	"keyless-recovery/internal/events"
	"keyless-recovery/internal/keyshare"
	"keyless-recovery/internal/repository"
	"keyless-recovery/internal/sms"
)

// Repositories bundles the stores the services depend on.
type Repositories struct {
	OTPs     repository.OTPCodeRepository
	Backups  repository.BackupRepository
	Sessions repository.SessionRepository
	Ledger   repository.KeyshareLedger
	Locker   repository.PhoneLocker
}

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	cfg       config.OTPConfig
	repos     Repositories
	signer    TokenSigner
	sender    sms.Sender
	publisher events.Publisher
	auditor   audit.Recorder
	logger    *zap.Logger

	resolver       *keyshare.Resolver
	sessionService *SessionService
	otpService     *OTPService
	backupService  *BackupService
}

func NewServiceFactory(
	cfg config.OTPConfig,
	repos Repositories,
	signer TokenSigner,
	sender sms.Sender,
	publisher events.Publisher,
	auditor audit.Recorder,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		cfg:       cfg,
		repos:     repos,
		signer:    signer,
		sender:    sender,
		publisher: publisher,
		auditor:   auditor,
		logger:    logger,
	}
}

func (f *ServiceFactory) Resolver() *keyshare.Resolver {
	if f.resolver == nil {
		f.resolver = keyshare.NewResolver(f.repos.OTPs, f.repos.Ledger, f.logger)
	}
	return f.resolver
}

func (f *ServiceFactory) SessionService() *SessionService {
	if f.sessionService == nil {
		f.sessionService = NewSessionService(f.repos.Sessions, f.signer, f.cfg.SessionTTL, f.logger)
	}
	return f.sessionService
}

func (f *ServiceFactory) OTPService() *OTPService {
	if f.otpService == nil {
		f.otpService = NewOTPService(
			f.cfg,
			f.repos,
			f.Resolver(),
			f.SessionService(),
			f.sender,
			f.publisher,
			f.auditor,
			f.logger,
		)
	}
	return f.otpService
}

func (f *ServiceFactory) BackupService() *BackupService {
	if f.backupService == nil {
		f.backupService = NewBackupService(
			f.repos,
			f.SessionService(),
			f.publisher,
			f.auditor,
			f.logger,
		)
	}
	return f.backupService
}

// Cleanup flushes in-flight events.
func (f *ServiceFactory) Cleanup() {
	if err := f.publisher.Close(); err != nil {
		f.logger.Warn("Failed to flush event publisher", zap.Error(err))
	}
}
