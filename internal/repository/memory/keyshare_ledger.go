package memory

import (
	"context"
	"sync"

	"keyless-recovery/internal/repository"
)

type KeyshareLedger struct {
	mu      sync.Mutex
	byPhone map[string]string
}

func NewKeyshareLedger() *KeyshareLedger {
	return &KeyshareLedger{byPhone: make(map[string]string)}
}

func (l *KeyshareLedger) Get(ctx context.Context, phone string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ks, ok := l.byPhone[phone]
	if !ok {
		return "", repository.ErrNotFound
	}
	return ks, nil
}

func (l *KeyshareLedger) Claim(ctx context.Context, phone, candidate string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ks, ok := l.byPhone[phone]; ok {
		return ks, nil
	}
	l.byPhone[phone] = candidate
	return candidate, nil
}
