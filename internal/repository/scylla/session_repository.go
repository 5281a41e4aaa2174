package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"keyless-recovery/internal/models"
	"keyless-recovery/internal/repository"
)

// sessionGrace keeps expired sessions readable for a while so callers can
// tell an expired session from an unknown one.
const sessionGrace = time.Hour

const (
	insertSession = `INSERT INTO otp_sessions (id, subject_phone, bound_keyshare, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?) USING TTL ?`

	selectSession = `SELECT id, subject_phone, bound_keyshare, expires_at, created_at
		FROM otp_sessions WHERE id = ?`
)

type SessionRepository struct {
	client *ScyllaClient
}

func NewSessionRepository(client *ScyllaClient) *SessionRepository {
	return &SessionRepository{client: client}
}

func (r *SessionRepository) Insert(ctx context.Context, session *models.Session) error {
	ttl := int(time.Until(session.ExpiresAt.Add(sessionGrace)).Seconds())
	if ttl <= 0 {
		ttl = int(sessionGrace.Seconds())
	}

	err := r.client.Query(ctx, insertSession,
		session.ID, session.SubjectPhone, session.BoundKeyshare, session.ExpiresAt, session.CreatedAt, ttl).
		RetryPolicy(noRetry).
		Exec()
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	s := &models.Session{}
	err := r.client.Query(ctx, selectSession, id).
		Scan(&s.ID, &s.SubjectPhone, &s.BoundKeyshare, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}
