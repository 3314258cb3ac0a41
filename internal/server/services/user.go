// Package services contains server-side business logic. This file implements
// UserService, which handles signup, login with per-address throttling,
// refresh token rotation, and account recovery.
package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/corpass/corpass/internal/common"
	"github.com/corpass/corpass/internal/corid"
	"github.com/corpass/corpass/internal/dbx"
	"github.com/corpass/corpass/internal/keywrap"
	"github.com/corpass/corpass/internal/password"
	"github.com/corpass/corpass/internal/recovery"
	"github.com/corpass/corpass/internal/server/auth"
	"github.com/corpass/corpass/internal/server/config"
	"github.com/corpass/corpass/internal/server/models"
	"github.com/corpass/corpass/internal/server/repositories/repomanager"
	"github.com/corpass/corpass/internal/server/throttle"
)

// Profile carries the identity attributes needed to mint a Cor-ID at signup.
// PatientSequence is allocated by the registering facility; the service does
// not check the (day, facility, sequence) triple for collisions.
type Profile struct {
	FacilityCode    int
	PatientSequence int
	BirthYear       int
	Sex             byte
}

// SignupResult is what the caller gets back after a successful signup. The
// recovery code appears here exactly once; only its ciphertext is stored.
type SignupResult struct {
	User         *models.User
	CorID        string
	RecoveryCode string
}

// UserService provides account operations:
// - Signup: create a user with a wrapped data key, recovery code, and Cor-ID
// - Login: throttle check, credential check, token pair
// - Refresh: rotate the stored refresh token
// - RestoreByCode / RestoreByFile: recovery-code login
type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	tokens      *auth.TokenService
	hasher      password.Hasher
	attempts    throttle.AttemptStore
	wrapSecret  string
	delivery    *recovery.Delivery
}

// NewUserService constructs a UserService. delivery may be nil, in which
// case recovery files are not uploaded to object storage.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config,
	attempts throttle.AttemptStore, delivery *recovery.Delivery) *UserService {
	return &UserService{
		db:          db,
		repomanager: m,
		tokens:      auth.NewTokenService([]byte(cfg.SecretKey), cfg.AccessTokenValidityDuration, cfg.RefreshTokenValidityDuration),
		hasher:      password.NewBcryptHasher(0),
		attempts:    attempts,
		wrapSecret:  cfg.EncryptionSecret,
		delivery:    delivery,
	}
}

// Signup registers a new account. It mints a fresh data key, seals a
// recovery code under it, wraps the key under the server secret, and assigns
// a Cor-ID dated today. The plaintext data key is wiped before returning.
func (s *UserService) Signup(ctx context.Context, email, pass string, profile Profile) (*SignupResult, error) {
	repo := s.repomanager.Users(s.db)

	_, err := repo.GetByEmail(ctx, email)
	if err == nil {
		return nil, common.ErrorAlreadyExists
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrorInternal
	}

	hash, err := s.hasher.Hash(pass)
	if err != nil {
		return nil, common.ErrorInternal
	}

	dataKey := keywrap.GenerateDataKey()
	defer common.WipeByteArray(dataKey)

	code, err := recovery.Generate()
	if err != nil {
		return nil, common.ErrorInternal
	}
	sealed, err := recovery.Seal(code, dataKey)
	if err != nil {
		return nil, common.ErrorInternal
	}
	wrapped, err := keywrap.Wrap(dataKey, s.wrapSecret)
	if err != nil {
		return nil, common.ErrorInternal
	}

	corID, err := corid.Encode(corid.DayOffsetFor(time.Now()),
		profile.FacilityCode, profile.PatientSequence, profile.BirthYear, profile.Sex)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:          email,
		PasswordHash:   hash,
		WrappedDataKey: wrapped,
		RecoveryCode:   sealed,
	}

	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repoTx := s.repomanager.Users(tx)
		if _, err := repoTx.Create(ctx, user); err != nil {
			return err
		}
		return repoTx.SetCorID(ctx, user.ID, corID)
	}); err != nil {
		return nil, common.ErrorInternal
	}
	user.CorID = sql.NullString{String: corID, Valid: true}

	if s.delivery != nil {
		if _, err := s.delivery.Upload(ctx, user.ID, code); err != nil {
			return nil, common.ErrorInternal
		}
	}

	return &SignupResult{User: user, CorID: corID, RecoveryCode: code}, nil
}

// Login checks the address lockout before anything else, then the password.
// Failures are recorded per client address; crossing the threshold locks
// the address even if the very next attempt carries correct credentials.
func (s *UserService) Login(ctx context.Context, clientAddr, email, pass string) (*auth.TokenPair, error) {
	locked, err := s.attempts.IsLocked(ctx, clientAddr)
	if err != nil {
		return nil, common.ErrorInternal
	}
	if locked {
		return nil, common.ErrRateLimited
	}

	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, s.recordFailure(ctx, clientAddr)
		}
		return nil, common.ErrorInternal
	}

	if !s.hasher.Check(pass, user.PasswordHash) {
		return nil, s.recordFailure(ctx, clientAddr)
	}

	return s.issuePair(ctx, user)
}

// Refresh rotates the refresh token. The presented token must carry the
// refresh scope and must still be the stored one; the swap to the new token
// is a single conditional write, so of two concurrent refreshes only one
// can win. A mismatch clears the stored token, forcing re-login.
func (s *UserService) Refresh(ctx context.Context, presented string) (*auth.TokenPair, error) {
	subject, err := s.tokens.Validate(presented, auth.ScopeRefresh)
	if err != nil {
		return nil, common.ErrInvalidToken
	}

	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByCorID(ctx, subject)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, common.ErrorInternal
	}

	pair, err := s.mintPair(subject)
	if err != nil {
		return nil, common.ErrorInternal
	}

	ok, err := repo.SwapRefreshToken(ctx, user.ID, presented, pair.RefreshToken)
	if err != nil {
		return nil, common.ErrorInternal
	}
	if !ok {
		_ = repo.ClearRefreshToken(ctx, user.ID)
		return nil, common.ErrInvalidToken
	}

	return pair, nil
}

// RestoreByCode logs a user in with their recovery code instead of a
// password. On success the stored ciphertext is refreshed (same code, new
// IV) and a normal token pair is issued.
func (s *UserService) RestoreByCode(ctx context.Context, email, candidate string) (*auth.TokenPair, error) {
	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidRecoveryCode
		}
		return nil, common.ErrorInternal
	}

	dataKey, err := keywrap.Unwrap(user.WrappedDataKey, s.wrapSecret)
	if err != nil {
		return nil, common.ErrorInternal
	}
	defer common.WipeByteArray(dataKey)

	if err := recovery.Verify(candidate, user.RecoveryCode, dataKey); err != nil {
		return nil, common.ErrInvalidRecoveryCode
	}

	resealed, err := recovery.Reseal(user.RecoveryCode, dataKey)
	if err != nil {
		return nil, common.ErrorInternal
	}
	if err := repo.UpdateRecoveryCode(ctx, user.ID, resealed); err != nil {
		return nil, common.ErrorInternal
	}

	return s.issuePair(ctx, user)
}

// RestoreByFile is RestoreByCode for an uploaded recovery file.
func (s *UserService) RestoreByFile(ctx context.Context, email string, fileContent []byte) (*auth.TokenPair, error) {
	return s.RestoreByCode(ctx, email, string(fileContent))
}

// RecoveryFileLink returns a presigned download URL for the user's recovery
// file in object storage.
func (s *UserService) RecoveryFileLink(ctx context.Context, userID string) (string, error) {
	if s.delivery == nil {
		return "", common.ErrorInternal
	}
	return s.delivery.PresignDownload(ctx, userID)
}

// --- helpers below ---

func (s *UserService) recordFailure(ctx context.Context, clientAddr string) error {
	locked, err := s.attempts.RecordFailure(ctx, clientAddr)
	if err != nil {
		return common.ErrorInternal
	}
	if locked {
		return common.ErrRateLimited
	}
	return common.ErrorUnauthorized
}

func (s *UserService) mintPair(subject string) (*auth.TokenPair, error) {
	access, err := s.tokens.IssueAccessToken(subject)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.IssueRefreshToken(subject)
	if err != nil {
		return nil, err
	}
	return &auth.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *UserService) issuePair(ctx context.Context, user *models.User) (*auth.TokenPair, error) {
	if !user.CorID.Valid {
		return nil, common.ErrorInternal
	}
	pair, err := s.mintPair(user.CorID.String)
	if err != nil {
		return nil, common.ErrorInternal
	}
	repo := s.repomanager.Users(s.db)
	if err := repo.UpdateRefreshToken(ctx, user.ID, pair.RefreshToken); err != nil {
		return nil, common.ErrorInternal
	}
	return pair, nil
}
