package scylla

import (
	"context"
	"fmt"
	"regexp"

	"keyless-recovery/internal/config"
)

var keyspaceName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,47}$`)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS otp_codes (
		phone text,
		created_at timestamp,
		id uuid,
		code text,
		keyshare text,
		is_valid boolean,
		is_emergency boolean,
		expires_at timestamp,
		PRIMARY KEY ((phone), created_at, id)
	) WITH CLUSTERING ORDER BY (created_at DESC, id ASC)`,

	`CREATE TABLE IF NOT EXISTS keyless_backups (
		wallet_address text PRIMARY KEY,
		phone text,
		encrypted_mnemonic text,
		encryption_address text,
		status text,
		flow text,
		origin text,
		created_at timestamp,
		updated_at timestamp
	)`,
	`CREATE INDEX IF NOT EXISTS keyless_backups_phone_idx ON keyless_backups (phone)`,

	`CREATE TABLE IF NOT EXISTS otp_sessions (
		id text PRIMARY KEY,
		subject_phone text,
		bound_keyshare text,
		expires_at timestamp,
		created_at timestamp
	)`,

	`CREATE TABLE IF NOT EXISTS keyshare_ledger (
		phone text PRIMARY KEY,
		ciphertext text,
		encrypted_dek text,
		key_id text,
		created_at timestamp
	)`,
}

func ensureKeyspace(cfg config.ScyllaConfig) error {
	if !keyspaceName.MatchString(cfg.Keyspace) {
		return fmt.Errorf("invalid keyspace name %q", cfg.Keyspace)
	}

	session, err := newCluster(cfg).CreateSession()
	if err != nil {
		return fmt.Errorf("failed to create scylla bootstrap session: %w", err)
	}
	defer session.Close()

	rf := cfg.ReplicationFactor
	if rf <= 0 {
		rf = 1
	}
	stmt := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s
		WITH replication = {'class': 'NetworkTopologyStrategy', 'replication_factor': %d}`, cfg.Keyspace, rf)
	if err := session.Query(stmt).Exec(); err != nil {
		return fmt.Errorf("failed to create keyspace: %w", err)
	}
	return nil
}

// EnsureSchema creates the service tables if they are missing.
func (s *ScyllaClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if err := s.Query(ctx, stmt).Exec(); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
