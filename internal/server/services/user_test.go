package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/corpass/corpass/internal/common"
	"github.com/corpass/corpass/internal/corid"
	"github.com/corpass/corpass/internal/dbx"
	"github.com/corpass/corpass/internal/keywrap"
	"github.com/corpass/corpass/internal/recovery"
	"github.com/corpass/corpass/internal/server/auth"
	"github.com/corpass/corpass/internal/server/config"
	"github.com/corpass/corpass/internal/server/models"
	"github.com/corpass/corpass/internal/server/repositories/repomanager"
	usersrepo "github.com/corpass/corpass/internal/server/repositories/users"
	"golang.org/x/crypto/bcrypt"
)

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

func testConfig() *config.Config {
	return &config.Config{
		SecretKey:                    "k",
		EncryptionSecret:             "encsecret",
		AccessTokenValidityDuration:  time.Hour,
		RefreshTokenValidityDuration: 2 * time.Hour,
	}
}

type fakeUsersRepo struct {
	getOut *models.User
	getErr error

	byCorID    *models.User
	byCorIDErr error

	createErr error
	created   *models.User

	corID       string
	setCorIDErr error

	updatedRefresh   string
	updateRefreshErr error

	cleared bool

	swapOK  bool
	swapErr error

	updatedRecovery string
}

func (f *fakeUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	u.ID = "u-1"
	u.CreatedAt = time.Now()
	f.created = u
	return u, nil
}

func (f *fakeUsersRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.getOut, nil
}

func (f *fakeUsersRepo) GetByCorID(ctx context.Context, corID string) (*models.User, error) {
	if f.byCorIDErr != nil {
		return nil, f.byCorIDErr
	}
	return f.byCorID, nil
}

func (f *fakeUsersRepo) UpdateRefreshToken(ctx context.Context, userID string, token string) error {
	if f.updateRefreshErr != nil {
		return f.updateRefreshErr
	}
	f.updatedRefresh = token
	return nil
}

func (f *fakeUsersRepo) ClearRefreshToken(ctx context.Context, userID string) error {
	f.cleared = true
	return nil
}

func (f *fakeUsersRepo) SwapRefreshToken(ctx context.Context, userID, presented, next string) (bool, error) {
	if f.swapErr != nil {
		return false, f.swapErr
	}
	return f.swapOK, nil
}

func (f *fakeUsersRepo) SetCorID(ctx context.Context, userID string, corID string) error {
	if f.setCorIDErr != nil {
		return f.setCorIDErr
	}
	f.corID = corID
	return nil
}

func (f *fakeUsersRepo) UpdateRecoveryCode(ctx context.Context, userID string, sealed string) error {
	f.updatedRecovery = sealed
	return nil
}

type fakeRepoManager struct {
	u *fakeUsersRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository      { return m.u }

var _ repomanager.RepositoryManager = (*fakeRepoManager)(nil)

type fakeAttempts struct {
	locked      bool
	lockedErr   error
	recorded    int
	lockOnNext  bool
	recordErr   error
	resetCalled bool
}

func (f *fakeAttempts) RecordFailure(ctx context.Context, addr string) (bool, error) {
	if f.recordErr != nil {
		return false, f.recordErr
	}
	f.recorded++
	return f.lockOnNext, nil
}

func (f *fakeAttempts) IsLocked(ctx context.Context, addr string) (bool, error) {
	return f.locked, f.lockedErr
}

func (f *fakeAttempts) Reset(ctx context.Context, addr string) error {
	f.resetCalled = true
	return nil
}

func bcryptHash(t *testing.T, pass string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error: %v", err)
	}
	return string(h)
}

func storedUser(t *testing.T, pass string) (*models.User, []byte) {
	t.Helper()
	dataKey := keywrap.GenerateDataKey()
	wrapped, err := keywrap.Wrap(dataKey, "encsecret")
	if err != nil {
		t.Fatalf("Wrap error: %v", err)
	}
	return &models.User{
		ID:             "u-1",
		Email:          "alice@example.com",
		PasswordHash:   bcryptHash(t, pass),
		WrappedDataKey: wrapped,
		CorID:          sql.NullString{String: "8X9UN5BF-1990M", Valid: true},
	}, dataKey
}

// --- signup ---

func TestSignup_Success(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	repo := &fakeUsersRepo{getErr: common.ErrorNotFound}
	s := NewUserService(db, &fakeRepoManager{u: repo}, testConfig(), &fakeAttempts{}, nil)

	res, err := s.Signup(context.Background(), "alice@example.com", "pw",
		Profile{FacilityCode: 7, PatientSequence: 123, BirthYear: 1990, Sex: 'M'})
	if err != nil {
		t.Fatalf("Signup error: %v", err)
	}

	if res.User.ID != "u-1" {
		t.Fatalf("unexpected user: %+v", res.User)
	}
	if repo.corID != res.CorID {
		t.Fatalf("cor id not persisted: repo=%q result=%q", repo.corID, res.CorID)
	}

	decoded, err := corid.Decode(res.CorID)
	if err != nil {
		t.Fatalf("minted cor id does not decode: %v", err)
	}
	if decoded.FacilityCode != 7 || decoded.PatientSequence != 123 || decoded.BirthYear != 1990 || decoded.Sex != 'M' {
		t.Fatalf("unexpected cor id components: %+v", decoded)
	}

	// wrapped key must unwrap under the configured secret and verify the
	// returned recovery code against the stored ciphertext
	dataKey, err := keywrap.Unwrap(res.User.WrappedDataKey, "encsecret")
	if err != nil {
		t.Fatalf("stored key does not unwrap: %v", err)
	}
	if err := recovery.Verify(res.RecoveryCode, res.User.RecoveryCode, dataKey); err != nil {
		t.Fatalf("recovery code does not verify: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestSignup_EmailExists(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	repo := &fakeUsersRepo{getOut: &models.User{ID: "u-1"}}
	s := NewUserService(db, &fakeRepoManager{u: repo}, testConfig(), &fakeAttempts{}, nil)

	_, err := s.Signup(context.Background(), "alice@example.com", "pw",
		Profile{FacilityCode: 7, PatientSequence: 123, BirthYear: 1990, Sex: 'M'})
	if !errors.Is(err, common.ErrorAlreadyExists) {
		t.Fatalf("want ErrorAlreadyExists, got %v", err)
	}
}

func TestSignup_BadProfile(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	repo := &fakeUsersRepo{getErr: common.ErrorNotFound}
	s := NewUserService(db, &fakeRepoManager{u: repo}, testConfig(), &fakeAttempts{}, nil)

	_, err := s.Signup(context.Background(), "alice@example.com", "pw",
		Profile{FacilityCode: 0, PatientSequence: 123, BirthYear: 1990, Sex: 'M'})
	if !errors.Is(err, common.ErrFormat) {
		t.Fatalf("want ErrFormat, got %v", err)
	}
}

func TestSignup_CreateError(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectRollback()

	repo := &fakeUsersRepo{getErr: common.ErrorNotFound, createErr: errors.New("db down")}
	s := NewUserService(db, &fakeRepoManager{u: repo}, testConfig(), &fakeAttempts{}, nil)

	_, err := s.Signup(context.Background(), "alice@example.com", "pw",
		Profile{FacilityCode: 7, PatientSequence: 123, BirthYear: 1990, Sex: 'M'})
	if !errors.Is(err, common.ErrorInternal) {
		t.Fatalf("want ErrorInternal, got %v", err)
	}
}

// --- login ---

func TestLogin_Success(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	user, _ := storedUser(t, "pw")
	repo := &fakeUsersRepo{getOut: user}
	attempts := &fakeAttempts{}
	s := NewUserService(db, &fakeRepoManager{u: repo}, testConfig(), attempts, nil)

	pair, err := s.Login(context.Background(), "10.0.0.1", "alice@example.com", "pw")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("empty tokens: %+v", pair)
	}
	if repo.updatedRefresh != pair.RefreshToken {
		t.Fatal("refresh token not stored")
	}
	if attempts.recorded != 0 {
		t.Fatalf("success must not record a failure, got %d", attempts.recorded)
	}

	// tokens carry the cor id and their own scope
	svc := auth.NewTokenService([]byte("k"), time.Hour, 2*time.Hour)
	sub, err := svc.Validate(pair.AccessToken, auth.ScopeAccess)
	if err != nil || sub != user.CorID.String {
		t.Fatalf("access token subject: %q err=%v", sub, err)
	}
	if _, err := svc.Validate(pair.RefreshToken, auth.ScopeRefresh); err != nil {
		t.Fatalf("refresh token scope: %v", err)
	}
}

func TestLogin_LockedAddress(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	user, _ := storedUser(t, "pw")
	repo := &fakeUsersRepo{getOut: user}
	s := NewUserService(db, &fakeRepoManager{u: repo}, testConfig(), &fakeAttempts{locked: true}, nil)

	// correct credentials still bounce while the address is locked
	_, err := s.Login(context.Background(), "10.0.0.1", "alice@example.com", "pw")
	if !errors.Is(err, common.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	user, _ := storedUser(t, "pw")
	repo := &fakeUsersRepo{getOut: user}
	attempts := &fakeAttempts{}
	s := NewUserService(db, &fakeRepoManager{u: repo}, testConfig(), attempts, nil)

	_, err := s.Login(context.Background(), "10.0.0.1", "alice@example.com", "nope")
	if !errors.Is(err, common.ErrorUnauthorized) {
		t.Fatalf("want ErrorUnauthorized, got %v", err)
	}
	if attempts.recorded != 1 {
		t.Fatalf("failure not recorded, got %d", attempts.recorded)
	}
}

func TestLogin_UnknownUserRecordsFailure(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	repo := &fakeUsersRepo{getErr: common.ErrorNotFound}
	attempts := &fakeAttempts{}
	s := NewUserService(db, &fakeRepoManager{u: repo}, testConfig(), attempts, nil)

	_, err := s.Login(context.Background(), "10.0.0.1", "ghost@example.com", "pw")
	if !errors.Is(err, common.ErrorUnauthorized) {
		t.Fatalf("want ErrorUnauthorized, got %v", err)
	}
	if attempts.recorded != 1 {
		t.Fatalf("failure not recorded, got %d", attempts.recorded)
	}
}

func TestLogin_ThresholdCrossingReturnsRateLimited(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	user, _ := storedUser(t, "pw")
	repo := &fakeUsersRepo{getOut: user}
	s := NewUserService(db, &fakeRepoManager{u: repo}, testConfig(), &fakeAttempts{lockOnNext: true}, nil)

	_, err := s.Login(context.Background(), "10.0.0.1", "alice@example.com", "nope")
	if !errors.Is(err, common.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
}

// --- refresh ---

func TestRefresh_RotatesToken(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	user, _ := storedUser(t, "pw")
	presented, err := auth.NewTokenService([]byte("k"), time.Hour, 2*time.Hour).
		IssueRefreshToken(user.CorID.String)
	if err != nil {
		t.Fatalf("issuing refresh token: %v", err)
	}

	repo := &fakeUsersRepo{byCorID: user, swapOK: true}
	s := NewUserService(db, &fakeRepoManager{u: repo}, testConfig(), &fakeAttempts{}, nil)

	pair, err := s.Refresh(context.Background(), presented)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.RefreshToken == presented {
		t.Fatalf("bad pair: %+v", pair)
	}
}

func TestRefresh_StoredMismatchClearsToken(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	user, _ := storedUser(t, "pw")
	presented, err := auth.NewTokenService([]byte("k"), time.Hour, 2*time.Hour).
		IssueRefreshToken(user.CorID.String)
	if err != nil {
		t.Fatalf("issuing refresh token: %v", err)
	}

	repo := &fakeUsersRepo{byCorID: user, swapOK: false}
	s := NewUserService(db, &fakeRepoManager{u: repo}, testConfig(), &fakeAttempts{}, nil)

	_, err = s.Refresh(context.Background(), presented)
	if !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("want ErrInvalidToken, got %v", err)
	}
	if !repo.cleared {
		t.Fatal("stored token must be cleared on mismatch")
	}
}

func TestRefresh_AccessTokenRejected(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	user, _ := storedUser(t, "pw")
	access, err := auth.NewTokenService([]byte("k"), time.Hour, 2*time.Hour).
		IssueAccessToken(user.CorID.String)
	if err != nil {
		t.Fatalf("issuing access token: %v", err)
	}

	repo := &fakeUsersRepo{byCorID: user, swapOK: true}
	s := NewUserService(db, &fakeRepoManager{u: repo}, testConfig(), &fakeAttempts{}, nil)

	_, err = s.Refresh(context.Background(), access)
	if !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("want ErrInvalidToken, got %v", err)
	}
}

func TestRefresh_GarbageToken(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	s := NewUserService(db, &fakeRepoManager{u: &fakeUsersRepo{}}, testConfig(), &fakeAttempts{}, nil)

	_, err := s.Refresh(context.Background(), "not-a-jwt")
	if !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("want ErrInvalidToken, got %v", err)
	}
}

// --- recovery ---

func TestRestoreByCode_Success(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	user, dataKey := storedUser(t, "pw")
	code, err := recovery.Generate()
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	sealed, err := recovery.Seal(code, dataKey)
	if err != nil {
		t.Fatalf("Seal error: %v", err)
	}
	user.RecoveryCode = sealed

	repo := &fakeUsersRepo{getOut: user}
	s := NewUserService(db, &fakeRepoManager{u: repo}, testConfig(), &fakeAttempts{}, nil)

	pair, err := s.RestoreByCode(context.Background(), "alice@example.com", code)
	if err != nil {
		t.Fatalf("RestoreByCode error: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("empty tokens: %+v", pair)
	}

	// ciphertext is refreshed but still verifies the same code
	if repo.updatedRecovery == "" || repo.updatedRecovery == sealed {
		t.Fatal("recovery ciphertext must be resealed")
	}
	if err := recovery.Verify(code, repo.updatedRecovery, dataKey); err != nil {
		t.Fatalf("resealed code does not verify: %v", err)
	}
}

func TestRestoreByCode_WrongCode(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	user, dataKey := storedUser(t, "pw")
	code, _ := recovery.Generate()
	sealed, err := recovery.Seal(code, dataKey)
	if err != nil {
		t.Fatalf("Seal error: %v", err)
	}
	user.RecoveryCode = sealed

	repo := &fakeUsersRepo{getOut: user}
	s := NewUserService(db, &fakeRepoManager{u: repo}, testConfig(), &fakeAttempts{}, nil)

	_, err = s.RestoreByCode(context.Background(), "alice@example.com", "ffffffffffffffffffffffffffffffff")
	if !errors.Is(err, common.ErrInvalidRecoveryCode) {
		t.Fatalf("want ErrInvalidRecoveryCode, got %v", err)
	}
	if repo.updatedRecovery != "" {
		t.Fatal("failed recovery must not reseal")
	}
}

func TestRestoreByCode_UnknownEmail(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	repo := &fakeUsersRepo{getErr: common.ErrorNotFound}
	s := NewUserService(db, &fakeRepoManager{u: repo}, testConfig(), &fakeAttempts{}, nil)

	_, err := s.RestoreByCode(context.Background(), "ghost@example.com", "whatever")
	if !errors.Is(err, common.ErrInvalidRecoveryCode) {
		t.Fatalf("want ErrInvalidRecoveryCode, got %v", err)
	}
}

func TestRestoreByFile_Success(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	user, dataKey := storedUser(t, "pw")
	code, _ := recovery.Generate()
	sealed, err := recovery.Seal(code, dataKey)
	if err != nil {
		t.Fatalf("Seal error: %v", err)
	}
	user.RecoveryCode = sealed

	repo := &fakeUsersRepo{getOut: user}
	s := NewUserService(db, &fakeRepoManager{u: repo}, testConfig(), &fakeAttempts{}, nil)

	pair, err := s.RestoreByFile(context.Background(), "alice@example.com", recovery.FileBytes(code))
	if err != nil {
		t.Fatalf("RestoreByFile error: %v", err)
	}
	if pair.AccessToken == "" {
		t.Fatal("empty access token")
	}
}
