package memory

import (
	"context"
	"sync"

	"keyless-recovery/internal/models"
	"keyless-recovery/internal/repository"
)

type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]models.Session)}
}

func (r *SessionRepository) Insert(ctx context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[session.ID]; ok {
		return repository.ErrAlreadyExists
	}
	r.sessions[session.ID] = *session
	return nil
}

// FindByID returns expired sessions too; expiry is the caller's decision.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}
