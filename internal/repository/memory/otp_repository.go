package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"keyless-recovery/internal/models"
	"keyless-recovery/internal/repository"
)

// OTPRepository keeps OTP records in insertion order.
type OTPRepository struct {
	mu      sync.RWMutex
	records []*models.OTPCode
}

func NewOTPRepository() *OTPRepository {
	return &OTPRepository{}
}

// latest returns the newest record matching keep. Later inserts win ties on CreatedAt.
func (r *OTPRepository) latest(keep func(*models.OTPCode) bool) *models.OTPCode {
	var best *models.OTPCode
	for i := len(r.records) - 1; i >= 0; i-- {
		rec := r.records[i]
		if !keep(rec) {
			continue
		}
		if best == nil || rec.CreatedAt.After(best.CreatedAt) {
			best = rec
		}
	}
	return best
}

func (r *OTPRepository) FindLatestWithKeyshare(ctx context.Context, phone string) (*models.OTPCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec := r.latest(func(o *models.OTPCode) bool {
		return o.Phone == phone && o.HasKeyshare()
	})
	if rec == nil {
		return nil, repository.ErrNotFound
	}
	return clone(rec), nil
}

func (r *OTPRepository) FindValidUnexpired(ctx context.Context, phone, code string, now time.Time) (*models.OTPCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec := r.latest(func(o *models.OTPCode) bool {
		return o.Phone == phone && o.Code == code && o.IsUsable(now)
	})
	if rec == nil {
		return nil, repository.ErrNotFound
	}
	return clone(rec), nil
}

func (r *OTPRepository) FindLatestByPhoneAndKeyshare(ctx context.Context, phone, keyshare string) (*models.OTPCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec := r.latest(func(o *models.OTPCode) bool {
		return o.Phone == phone && o.Keyshare != nil && *o.Keyshare == keyshare
	})
	if rec == nil {
		return nil, repository.ErrNotFound
	}
	return clone(rec), nil
}

func (r *OTPRepository) Insert(ctx context.Context, otp *models.OTPCode) error {
	if otp.ID == "" {
		otp.ID = uuid.New().String()
	}
	if otp.CreatedAt.IsZero() {
		otp.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.records {
		if rec.ID == otp.ID {
			return repository.ErrAlreadyExists
		}
	}
	r.records = append(r.records, clone(otp))
	return nil
}

func (r *OTPRepository) InvalidateAllValidNonEmergency(ctx context.Context, phone string) (int, error) {
	return r.invalidateWhere(func(o *models.OTPCode) bool {
		return o.Phone == phone && o.IsValid && !o.IsEmergency
	}), nil
}

func (r *OTPRepository) InvalidateByPhoneAndCode(ctx context.Context, phone, code string) (int, error) {
	return r.invalidateWhere(func(o *models.OTPCode) bool {
		return o.Phone == phone && o.Code == code && o.IsValid && !o.IsEmergency
	}), nil
}

func (r *OTPRepository) invalidateWhere(match func(*models.OTPCode) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, rec := range r.records {
		if match(rec) {
			rec.IsValid = false
			n++
		}
	}
	return n
}

func (r *OTPRepository) MarkUsedAndSetKeyshare(ctx context.Context, otp *models.OTPCode, keyshare string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.records {
		if rec.ID != otp.ID {
			continue
		}
		if !rec.IsValid {
			return false, nil
		}
		rec.IsValid = false
		ks := keyshare
		rec.Keyshare = &ks
		return true, nil
	}
	return false, repository.ErrNotFound
}

func (r *OTPRepository) DeleteExpired(ctx context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.records[:0]
	deleted := 0
	for _, rec := range r.records {
		if rec.ExpiresAt.Before(olderThan) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	for i := len(kept); i < len(r.records); i++ {
		r.records[i] = nil
	}
	r.records = kept
	return deleted, nil
}

// All returns a snapshot of every record of phone, oldest first.
func (r *OTPRepository) All(phone string) []*models.OTPCode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.OTPCode
	for _, rec := range r.records {
		if rec.Phone == phone {
			out = append(out, clone(rec))
		}
	}
	return out
}

func clone(o *models.OTPCode) *models.OTPCode {
	c := *o
	if o.Keyshare != nil {
		ks := *o.Keyshare
		c.Keyshare = &ks
	}
	return &c
}
