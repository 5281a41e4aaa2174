package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"keyless-recovery/internal/models"
	"keyless-recovery/internal/repository"
	"keyless-recovery/internal/token"
	"keyless-recovery/internal/util"
)

type TokenSigner interface {
	Sign(claims token.Claims) (string, error)
}

type SessionResult struct {
	Token     string
	SessionID string
}

// SessionService issues and validates the sessions produced by successful
// verifications and emergency recoveries.
type SessionService struct {
	sessions repository.SessionRepository
	signer   TokenSigner
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewSessionService(sessions repository.SessionRepository, signer TokenSigner, ttl time.Duration, logger *zap.Logger) *SessionService {
	return &SessionService{
		sessions: sessions,
		signer:   signer,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateSession persists a session bound to keyshare and phone and signs a
// token describing it.
func (s *SessionService) CreateSession(ctx context.Context, keyshare, phone string) (*SessionResult, error) {
	now := s.now().UTC()
	session := &models.Session{
		ID:            uuid.NewString(),
		SubjectPhone:  phone,
		BoundKeyshare: keyshare,
		ExpiresAt:     now.Add(s.ttl),
		CreatedAt:     now,
	}

	if err := s.sessions.Insert(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	signed, err := s.signer.Sign(token.SessionClaims(phone, session.ID, keyshare, session.ExpiresAt))
	if err != nil {
		return nil, err
	}

	s.logger.Info("Session created",
		util.String("session_id", session.ID),
		util.Phone(phone),
		util.Time("expires_at", session.ExpiresAt))

	return &SessionResult{Token: signed, SessionID: session.ID}, nil
}

// Validate returns the session with the given id if it exists and has not
// expired. Sessions are never renewed.
func (s *SessionService) Validate(ctx context.Context, sessionID string) (*models.Session, error) {
	if sessionID == "" {
		return nil, ErrInvalidSession
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if session.IsExpired(s.now()) {
		return nil, ErrSessionExpired
	}
	return session, nil
}
