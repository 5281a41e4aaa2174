package models

import "time"

// KeyshareLedgerEntry is the single durable keyshare claimed for a phone.
type KeyshareLedgerEntry struct {
	Phone        string    `db:"phone"`
	Ciphertext   string    `db:"ciphertext"`
	EncryptedDEK string    `db:"encrypted_dek"`
	KeyID        string    `db:"key_id"`
	CreatedAt    time.Time `db:"created_at"`
}
