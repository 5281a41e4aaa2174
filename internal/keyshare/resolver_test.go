package keyshare

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"keyless-recovery/internal/models"
	"keyless-recovery/internal/repository/memory"
)

const phone = "+34612345678"

var hex64 = regexp.MustCompile(`^[0-9a-f]{64}$`)

func insert(t *testing.T, repo *memory.OTPRepository, keyshare *string, at time.Time) {
	t.Helper()
	require.NoError(t, repo.Insert(context.Background(), &models.OTPCode{
		Phone: phone, Code: "123456", Keyshare: keyshare, CreatedAt: at, ExpiresAt: at.Add(time.Minute),
	}))
}

func strPtr(s string) *string { return &s }

func TestResolveMintsWhenNoHistory(t *testing.T) {
	r := NewResolver(memory.NewOTPRepository(), memory.NewKeyshareLedger(), zap.NewNop())

	ks, minted, err := r.Resolve(context.Background(), phone)
	require.NoError(t, err)
	assert.True(t, minted)
	assert.Regexp(t, hex64, ks)
}

func TestResolveReturnsNewestKeyshare(t *testing.T) {
	otps := memory.NewOTPRepository()
	base := time.Now().UTC()
	insert(t, otps, strPtr("older"), base)
	insert(t, otps, strPtr("newer"), base.Add(time.Second))
	insert(t, otps, nil, base.Add(2*time.Second))

	r := NewResolver(otps, memory.NewKeyshareLedger(), zap.NewNop())
	ks, minted, err := r.Resolve(context.Background(), phone)
	require.NoError(t, err)
	assert.False(t, minted)
	assert.Equal(t, "newer", ks)
}

func TestResolveDoesNotWrite(t *testing.T) {
	otps := memory.NewOTPRepository()
	ledger := memory.NewKeyshareLedger()
	r := NewResolver(otps, ledger, zap.NewNop())

	first, _, err := r.Resolve(context.Background(), phone)
	require.NoError(t, err)
	second, _, err := r.Resolve(context.Background(), phone)
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "without persistence each call mints")
	assert.Empty(t, otps.All(phone))
	_, err = ledger.Get(context.Background(), phone)
	assert.Error(t, err)
}

func TestClaimOrGetIsStable(t *testing.T) {
	r := NewResolver(memory.NewOTPRepository(), memory.NewKeyshareLedger(), zap.NewNop())

	first, err := r.ClaimOrGet(context.Background(), phone)
	require.NoError(t, err)
	assert.Regexp(t, hex64, first)

	for i := 0; i < 3; i++ {
		again, err := r.ClaimOrGet(context.Background(), phone)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestClaimOrGetAdoptsLegacyHistory(t *testing.T) {
	otps := memory.NewOTPRepository()
	insert(t, otps, strPtr("legacy"), time.Now().UTC())

	r := NewResolver(otps, memory.NewKeyshareLedger(), zap.NewNop())
	ks, err := r.ClaimOrGet(context.Background(), phone)
	require.NoError(t, err)
	assert.Equal(t, "legacy", ks)
}

func TestConcurrentClaimOrGetConverges(t *testing.T) {
	r := NewResolver(memory.NewOTPRepository(), memory.NewKeyshareLedger(), zap.NewNop())

	const callers = 32
	results := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ks, err := r.ClaimOrGet(context.Background(), phone)
			assert.NoError(t, err)
			results[i] = ks
		}(i)
	}
	wg.Wait()

	for _, ks := range results {
		assert.Equal(t, results[0], ks)
	}
}

func TestConcurrentResolveMayDiverge(t *testing.T) {
	r := NewResolver(memory.NewOTPRepository(), memory.NewKeyshareLedger(), zap.NewNop())

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]struct{}{}
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ks, _, err := r.Resolve(context.Background(), phone)
			assert.NoError(t, err)
			mu.Lock()
			seen[ks] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 8)
}

type failingOTPs struct {
	*memory.OTPRepository
}

func (failingOTPs) FindLatestWithKeyshare(ctx context.Context, phone string) (*models.OTPCode, error) {
	return nil, errors.New("store down")
}

func TestResolvePropagatesStoreErrors(t *testing.T) {
	r := NewResolver(failingOTPs{memory.NewOTPRepository()}, memory.NewKeyshareLedger(), zap.NewNop())

	_, _, err := r.Resolve(context.Background(), phone)
	assert.ErrorContains(t, err, "store down")

	_, err = r.ClaimOrGet(context.Background(), phone)
	assert.ErrorContains(t, err, "store down")
}

func TestMint(t *testing.T) {
	ks, err := Mint(bytes.NewReader(bytes.Repeat([]byte{0xab}, Size)))
	require.NoError(t, err)
	assert.Equal(t, 64, len(ks))
	assert.Equal(t, "abab", ks[:4])

	_, err = Mint(bytes.NewReader([]byte{1, 2, 3}))
	assert.Error(t, err)
}
