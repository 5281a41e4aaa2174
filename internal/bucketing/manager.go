package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"keyless-recovery/internal/config"
)

type BucketingManager struct {
	eventBuckets int
	lockStripes  int
	hasherPool   sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		eventBuckets: positiveOr(cfg.Bucketing.EventBuckets, 64),
		lockStripes:  positiveOr(cfg.Bucketing.LockStripes, 256),
	}

	// Create pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetEventBucket returns the audit partition for an identifier (0 to eventBuckets-1).
func (bm *BucketingManager) GetEventBucket(identifier string) int {
	return bm.getBucket(identifier, bm.eventBuckets)
}

// GetLockStripe returns the in-process lock stripe guarding a phone.
func (bm *BucketingManager) GetLockStripe(phone string) int {
	return bm.getBucket(phone, bm.lockStripes)
}

// GetDateBucket returns the UTC day partition of t.
func (bm *BucketingManager) GetDateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) GetEventBuckets() int {
	return bm.eventBuckets
}

func (bm *BucketingManager) GetLockStripes() int {
	return bm.lockStripes
}

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	return int(bm.getHash(key) % uint64(numBuckets))
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
