// Package keyshare decides which keyshare belongs to a phone.
//
// A phone has exactly one durable keyshare. Resolve reports what the OTP
// history says it is (or mints a fresh one); ClaimOrGet additionally records
// the answer in the ledger so that concurrent first-time recoveries agree.
package keyshare

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"keyless-recovery/internal/repository"
	"keyless-recovery/internal/util"
)

// Size is the number of random bytes in a minted keyshare.
const Size = 32

type Resolver struct {
	otps    repository.OTPCodeRepository
	ledger  repository.KeyshareLedger
	logger  *zap.Logger
	entropy io.Reader
}

func NewResolver(otps repository.OTPCodeRepository, ledger repository.KeyshareLedger, logger *zap.Logger) *Resolver {
	return &Resolver{
		otps:    otps,
		ledger:  ledger,
		logger:  logger,
		entropy: rand.Reader,
	}
}

// Resolve returns the keyshare of the newest OTP record of phone that has one,
// or a freshly minted keyshare. It never writes.
func (r *Resolver) Resolve(ctx context.Context, phone string) (keyshare string, minted bool, err error) {
	rec, err := r.otps.FindLatestWithKeyshare(ctx, phone)
	switch {
	case err == nil:
		return *rec.Keyshare, false, nil
	case errors.Is(err, repository.ErrNotFound):
	default:
		return "", false, fmt.Errorf("failed to look up keyshare history: %w", err)
	}

	keyshare, err = Mint(r.entropy)
	if err != nil {
		return "", false, err
	}
	r.logger.Info("Minted new keyshare", util.Phone(phone))
	return keyshare, true, nil
}

// ClaimOrGet returns the phone's durable keyshare, claiming the Resolve
// result in the ledger when the phone has none yet.
func (r *Resolver) ClaimOrGet(ctx context.Context, phone string) (string, error) {
	keyshare, err := r.ledger.Get(ctx, phone)
	if err == nil {
		return keyshare, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("failed to read keyshare ledger: %w", err)
	}

	candidate, _, err := r.Resolve(ctx, phone)
	if err != nil {
		return "", err
	}

	winner, err := r.ledger.Claim(ctx, phone, candidate)
	if err != nil {
		return "", fmt.Errorf("failed to claim keyshare: %w", err)
	}
	if winner != candidate {
		r.logger.Info("Keyshare claimed concurrently, using stored value", util.Phone(phone))
	}
	return winner, nil
}

// Mint reads Size bytes from entropy and hex-encodes them.
func Mint(entropy io.Reader) (string, error) {
	buf := make([]byte, Size)
	if _, err := io.ReadFull(entropy, buf); err != nil {
		return "", fmt.Errorf("failed to generate keyshare: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
