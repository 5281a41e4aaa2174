package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"keyless-recovery/internal/encryption"
	"keyless-recovery/internal/repository"
	"keyless-recovery/internal/util"
)

const (
	selectLedgerEntry = `SELECT ciphertext, encrypted_dek, key_id FROM keyshare_ledger WHERE phone = ?`

	claimLedgerEntry = `INSERT INTO keyshare_ledger (phone, ciphertext, encrypted_dek, key_id, created_at)
		VALUES (?, ?, ?, ?, ?) IF NOT EXISTS`
)

// KeyshareLedger keeps the claimed keyshare of every phone, envelope-encrypted.
// Claims are lightweight transactions, so concurrent claimers agree on one value.
type KeyshareLedger struct {
	client    *ScyllaClient
	encryptor *encryption.EncryptionManager
}

func NewKeyshareLedger(client *ScyllaClient, encryptor *encryption.EncryptionManager) *KeyshareLedger {
	return &KeyshareLedger{client: client, encryptor: encryptor}
}

func (l *KeyshareLedger) Get(ctx context.Context, phone string) (string, error) {
	var sealed encryption.EncryptedData
	err := l.client.Query(ctx, selectLedgerEntry, phone).
		Consistency(gocql.Consistency(gocql.LocalSerial)).
		Scan(&sealed.EncryptedValue, &sealed.EncryptedDEK, &sealed.KeyID)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("failed to read keyshare ledger: %w", err)
	}
	return l.encryptor.DecryptField(ctx, &sealed)
}

func (l *KeyshareLedger) Claim(ctx context.Context, phone, candidate string) (string, error) {
	sealed, err := l.encryptor.EncryptField(ctx, candidate)
	if err != nil {
		return "", fmt.Errorf("failed to seal keyshare: %w", err)
	}

	row := map[string]interface{}{}
	applied, err := l.client.Query(ctx, claimLedgerEntry,
		phone, sealed.EncryptedValue, sealed.EncryptedDEK, sealed.KeyID, time.Now().UTC()).
		RetryPolicy(noRetry).
		MapScanCAS(row)
	if err != nil {
		util.Error("Failed to claim keyshare", util.Phone(phone), util.ErrorField(err))
		return "", fmt.Errorf("failed to claim keyshare: %w", err)
	}
	if applied {
		return candidate, nil
	}

	winner := &encryption.EncryptedData{}
	winner.EncryptedValue, _ = row["ciphertext"].(string)
	winner.EncryptedDEK, _ = row["encrypted_dek"].(string)
	winner.KeyID, _ = row["key_id"].(string)

	util.Debug("Keyshare already claimed", util.Phone(phone))
	return l.encryptor.DecryptField(ctx, winner)
}
