package services

import (
	"context"
	"database/sql"
	"errors"

	"github.com/corpass/corpass/internal/common"
	"github.com/corpass/corpass/internal/fieldcipher"
	"github.com/corpass/corpass/internal/keywrap"
	"github.com/corpass/corpass/internal/server/config"
	"github.com/corpass/corpass/internal/server/repositories/repomanager"
)

// RecordService encrypts and decrypts individual record fields under a
// user's data key. The key is unwrapped per call and wiped afterwards;
// plaintext field values are never persisted.
type RecordService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	wrapSecret  string
}

func NewRecordService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *RecordService {
	return &RecordService{db: db, repomanager: m, wrapSecret: cfg.EncryptionSecret}
}

func (s *RecordService) dataKeyFor(ctx context.Context, corID string) ([]byte, error) {
	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByCorID(ctx, corID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, common.ErrorInternal
	}
	key, err := keywrap.Unwrap(user.WrappedDataKey, s.wrapSecret)
	if err != nil {
		return nil, common.ErrIntegrity
	}
	return key, nil
}

// EncryptField encrypts one field value for the user identified by corID.
func (s *RecordService) EncryptField(ctx context.Context, corID, plaintext string) (string, error) {
	key, err := s.dataKeyFor(ctx, corID)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(key)
	return fieldcipher.EncryptField(plaintext, key)
}

// DecryptField reverses EncryptField for the same user.
func (s *RecordService) DecryptField(ctx context.Context, corID, encoded string) (string, error) {
	key, err := s.dataKeyFor(ctx, corID)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(key)
	return fieldcipher.DecryptField(encoded, key)
}
