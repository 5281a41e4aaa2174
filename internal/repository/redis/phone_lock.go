package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"keyless-recovery/internal/client"
	"keyless-recovery/internal/util"
)

const otpLockPrefix = "otp_lock:"

// releaseScript deletes the lock only if it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// PhoneLock is a per-phone mutual exclusion lock shared by every instance
// talking to the same Redis.
type PhoneLock struct {
	client     *client.RedisClient
	ttl        time.Duration
	retryDelay time.Duration
}

func NewPhoneLock(client *client.RedisClient, ttl time.Duration) *PhoneLock {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &PhoneLock{
		client:     client,
		ttl:        ttl,
		retryDelay: 25 * time.Millisecond,
	}
}

// Lock blocks until the lock for phone is held or ctx is done. The lock
// expires on its own after ttl if the holder never releases it.
func (l *PhoneLock) Lock(ctx context.Context, phone string) (func(), error) {
	key := otpLockPrefix + phone
	token := uuid.New().String()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl)
		if err != nil {
			util.Error("Failed to set OTP lock", util.Phone(phone), util.ErrorField(err))
			return nil, fmt.Errorf("failed to set OTP lock: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}

	unlock := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := l.client.Eval(releaseCtx, releaseScript, []string{key}, token); err != nil {
			util.Warn("Failed to release OTP lock", util.Phone(phone), util.ErrorField(err))
		}
	}
	return unlock, nil
}
