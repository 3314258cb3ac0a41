package models

import (
	"database/sql"
	"time"
)

// User is the persisted account record. WrappedDataKey and RecoveryCode hold
// ciphertext envelopes; the plaintext data key never touches the database.
// CorID is assigned once during signup and is immutable afterwards.
type User struct {
	ID             string
	Email          string
	PasswordHash   string
	WrappedDataKey string
	RecoveryCode   string
	RefreshToken   sql.NullString
	CorID          sql.NullString
	CreatedAt      time.Time
}
