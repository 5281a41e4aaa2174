package memory

import (
	"context"
	"sync"

	"keyless-recovery/internal/bucketing"
)

// StripedLocker maps phones onto a fixed set of in-process locks.
// Two phones may share a stripe; that only costs contention.
type StripedLocker struct {
	buckets *bucketing.BucketingManager
	stripes []chan struct{}
}

func NewStripedLocker(buckets *bucketing.BucketingManager) *StripedLocker {
	stripes := make([]chan struct{}, buckets.GetLockStripes())
	for i := range stripes {
		stripes[i] = make(chan struct{}, 1)
	}
	return &StripedLocker{buckets: buckets, stripes: stripes}
}

func (l *StripedLocker) Lock(ctx context.Context, phone string) (func(), error) {
	stripe := l.stripes[l.buckets.GetLockStripe(phone)]
	select {
	case stripe <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-stripe }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
